// Package device defines the contract between card reader drivers and the
// polling loop. It has no driver dependencies so the core can be built
// without any vendor library present.
package device

import (
	"context"
	"errors"
	"time"

	"felicad/card"
)

// ErrUnavailable is wrapped by Open when the driver is missing, the
// device is absent, or access is denied. It is fatal to that reader only.
var ErrUnavailable = errors.New("device unavailable")

// Tag is one successful card read.
type Tag struct {
	ID     card.ID
	Model  string
	Path   string // USB hardware path of the reader, "" when unknown
	Source string // driver-level reader name
}

// Empty reports whether the tag carries no card.
func (t Tag) Empty() bool {
	return t.ID.Empty()
}

// Reader is the interface for all card reader drivers.
// A Reader is owned by a single goroutine and is not safe for concurrent use.
type Reader interface {
	// Name identifies the driver in logs.
	Name() string

	// Open acquires the device. Errors wrap ErrUnavailable.
	Open() error

	// Poll attempts one read and returns promptly. A zero Tag with a nil
	// error means no card is present. Other errors are transient unless
	// they wrap ErrUnavailable.
	Poll(ctx context.Context) (Tag, error)

	// Close releases the device. Safe to call on a reader that never opened.
	Close() error
}

// Config holds the configuration of one reader backend.
type Config struct {
	Type     string `yaml:"type"`     // "pcsc", "libpafe", "rcs620", "keyboard"
	Name     string `yaml:"name"`     // log name, defaults to the type
	Disabled bool   `yaml:"disabled"` // keep the entry but do not start it

	Device     string `yaml:"device"`      // serial or evdev node, e.g. "/dev/ttyUSB0"
	Baud       int    `yaml:"baud"`        // serial baud rate
	Library    string `yaml:"library"`     // shared library for libpafe
	SystemCode uint16 `yaml:"system_code"` // FeliCa system code, 0 = wildcard 0xFFFF
	Digits     int    `yaml:"digits"`      // keyboard: expected hex digits, 0 = any

	// Polling cadence, consumed by the backend loop.
	Interval    time.Duration `yaml:"interval"`
	Cooldown    time.Duration `yaml:"cooldown"`
	CoolingTick time.Duration `yaml:"cooling_tick"`
}

// DefaultConfigs lists the two backends started when no readers are configured.
func DefaultConfigs() []Config {
	return []Config{
		{Type: "pcsc", Name: "pcsc-rc-s300", Interval: 300 * time.Millisecond},
		{Type: "libpafe", Name: "libpafe-rc-s320", Interval: 150 * time.Millisecond},
	}
}
