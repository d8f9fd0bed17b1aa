package reader

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"felicad/device"
	"felicad/usbdev"
)

// Driver contract types live in package device; the aliases keep driver
// code short.
type (
	Tag    = device.Tag
	Reader = device.Reader
	Config = device.Config
)

// ErrDeviceUnavailable is wrapped by every driver's Open failure.
var ErrDeviceUnavailable = device.ErrUnavailable

// DefaultConfigs lists the backends started when no readers are configured.
func DefaultConfigs() []Config {
	return device.DefaultConfigs()
}

// New creates a Reader based on the provided configuration.
func New(cfg Config, enum *usbdev.Enumerator, log logrus.FieldLogger) (Reader, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}
	log = log.WithField("backend", name)

	systemCode := cfg.SystemCode
	if systemCode == 0 {
		systemCode = 0xFFFF
	}

	switch cfg.Type {
	case "pcsc":
		return NewPCSC(name, enum, log), nil
	case "libpafe":
		return NewPafe(name, cfg.Library, systemCode, enum, log), nil
	case "rcs620":
		if cfg.Device == "" {
			return nil, fmt.Errorf("reader %s: device required", name)
		}
		return NewRCS620(name, cfg.Device, cfg.Baud, systemCode, enum, log), nil
	case "keyboard":
		if cfg.Device == "" {
			return nil, fmt.Errorf("reader %s: device required", name)
		}
		return NewKeyboard(name, cfg.Device, cfg.Digits, enum, log), nil
	default:
		return nil, fmt.Errorf("reader %s: unknown type %q", name, cfg.Type)
	}
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, what, err)
}
