package dedup

import (
	"time"

	"felicad/port"
)

// Class is the dedup treatment of a logical port.
type Class int

const (
	ClassPlain Class = iota
	ClassPayment
	ClassAdmin
)

func (c Class) String() string {
	switch c {
	case ClassPayment:
		return "payment"
	case ClassAdmin:
		return "admin"
	default:
		return "plain"
	}
}

const DefaultWindow = 3 * time.Second

// Config is the dedup section of the daemon configuration.
type Config struct {
	Window        time.Duration `yaml:"window"`
	PaymentPorts  []int         `yaml:"payment_ports"`
	AdminPorts    []int         `yaml:"admin_ports"`
	RearmRepeat   *bool         `yaml:"rearm_repeat"`
	Store         string        `yaml:"store"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables sweeping
}

// DefaultConfig matches the counter layout: payment terminals on ports
// 1-4, the admin desk on port 5.
func DefaultConfig() Config {
	return Config{
		Window:        DefaultWindow,
		PaymentPorts:  []int{1, 2, 3, 4},
		AdminPorts:    []int{5},
		Store:         "memory",
		SweepInterval: DefaultWindow,
	}
}

// Policy maps logical ports to classes and carries the repeat window.
type Policy struct {
	Window      time.Duration
	RearmRepeat bool

	payment map[port.Number]bool
	admin   map[port.Number]bool
}

// NewPolicy builds a Policy from cfg. A port listed as both payment and
// admin is treated as admin.
func NewPolicy(cfg Config) Policy {
	p := Policy{
		Window:      cfg.Window,
		RearmRepeat: true,
		payment:     make(map[port.Number]bool),
		admin:       make(map[port.Number]bool),
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if cfg.RearmRepeat != nil {
		p.RearmRepeat = *cfg.RearmRepeat
	}
	for _, n := range cfg.PaymentPorts {
		p.payment[port.Number(n)] = true
	}
	for _, n := range cfg.AdminPorts {
		p.admin[port.Number(n)] = true
	}
	return p
}

// Classify returns the class of n. None is always plain.
func (p Policy) Classify(n port.Number) Class {
	switch {
	case !n.Valid():
		return ClassPlain
	case p.admin[n]:
		return ClassAdmin
	case p.payment[n]:
		return ClassPayment
	default:
		return ClassPlain
	}
}
