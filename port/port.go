package port

import (
	"fmt"
	"sort"
	"strings"

	"felicad/card"
)

// Number is a logical port on the hub, 1 through 7. None means the
// device sits on a socket the topology table does not know.
type Number int

// None is the unassigned port.
const None Number = 0

// Max is the highest logical port on the hub.
const Max Number = 7

// Valid reports whether n is an assigned port.
func (n Number) Valid() bool {
	return n > None
}

// String implements fmt.Stringer.
func (n Number) String() string {
	if !n.Valid() {
		return "none"
	}
	return fmt.Sprintf("%d", int(n))
}

// DefaultTopology maps the sockets of the 7-port hub to logical ports.
var DefaultTopology = map[string]Number{
	"1-1.4":   1,
	"1-1.2":   2,
	"1-1.1":   3,
	"1-1.3.4": 4,
	"1-1.3.2": 5,
	"1-1.3.1": 6,
	"1-1.3.3": 7,
}

// Config overrides the hub topology. Keys are sysfs USB device names.
type Config struct {
	Topology map[string]int `yaml:"topology"`
}

// Table is a fixed hardware path to logical port lookup.
// It is never modified after construction and is safe for concurrent use.
type Table struct {
	ports map[string]Number
}

// NewTable builds a Table from cfg, falling back to DefaultTopology when
// cfg has no entries.
func NewTable(cfg Config) (*Table, error) {
	if len(cfg.Topology) == 0 {
		return &Table{ports: DefaultTopology}, nil
	}

	ports := make(map[string]Number, len(cfg.Topology))
	seen := make(map[int]string, len(cfg.Topology))
	for path, n := range cfg.Topology {
		if n < 1 || Number(n) > Max {
			return nil, fmt.Errorf("topology %s: port %d out of range", path, n)
		}
		if other, dup := seen[n]; dup {
			return nil, fmt.Errorf("topology: port %d assigned to both %s and %s", n, other, path)
		}
		seen[n] = path
		ports[strings.TrimSpace(path)] = Number(n)
	}
	return &Table{ports: ports}, nil
}

// Lookup returns the logical port for a hardware path, or None.
func (t *Table) Lookup(path string) Number {
	if n, ok := t.ports[path]; ok {
		return n
	}
	return None
}

// Entry is one row of the topology table.
type Entry struct {
	Path string
	Port Number
}

// Entries returns the table ordered by port number.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.ports))
	for path, n := range t.ports {
		out = append(out, Entry{Path: path, Port: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// ModelForName extracts the reader model from a PC/SC reader name,
// e.g. "Sony FeliCa Port/PaSoRi RC-S300/P 00 00" -> "RC-S300".
func ModelForName(name string) string {
	switch {
	case strings.Contains(name, "S300"):
		return card.ModelRCS300
	case strings.Contains(name, "S320"):
		return card.ModelRCS320
	case strings.Contains(name, "S330"):
		return card.ModelRCS330
	default:
		return card.ModelUnknown
	}
}
