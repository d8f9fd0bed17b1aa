package indicator

import (
	"fmt"
	"time"
)

// Cue is a feedback event shown or played to the person at the reader.
type Cue int

const (
	CueAccepted Cue = iota + 1
	CueAgain
	CueAdmin
	CuePayback
	CueActivate
	CueRegister
	CueError
)

func (c Cue) String() string {
	switch c {
	case CueAccepted:
		return "accepted"
	case CueAgain:
		return "again"
	case CueAdmin:
		return "admin"
	case CuePayback:
		return "payback"
	case CueActivate:
		return "activate"
	case CueRegister:
		return "register"
	case CueError:
		return "error"
	default:
		return fmt.Sprintf("cue(%d)", int(c))
	}
}

// color is the LED a cue lights on the tri-color indicators.
type color int

const (
	green color = iota
	yellow
	red
)

func (c Cue) color() color {
	switch c {
	case CueAccepted, CuePayback, CueAdmin:
		return green
	case CueError:
		return red
	default:
		return yellow
	}
}

// Indicator is the interface for feedback implementations (audio, LEDs, neopixels).
// Cue must not block the caller.
type Indicator interface {
	// Cue signals one event.
	Cue(c Cue)

	// Idle sets the indicator to its ready state.
	Idle()

	// Release releases any hardware resources.
	Release() error
}

// Config holds configuration for the LED indicator implementations.
type Config struct {
	// Memory-mapped GPIO LED pins (nil = not configured)
	GreenPin  *uint8 `yaml:"green_pin"`
	YellowPin *uint8 `yaml:"yellow_pin"`
	RedPin    *uint8 `yaml:"red_pin"`

	// GPIO character device LED lines (nil = not configured)
	Chip       string `yaml:"chip"`
	GreenLine  *int   `yaml:"green_line"`
	YellowLine *int   `yaml:"yellow_line"`
	RedLine    *int   `yaml:"red_line"`

	// How long an LED stays lit before returning to idle
	Hold time.Duration `yaml:"hold"`

	// Neopixel pipe path (empty = not configured)
	NeopixelPipe string `yaml:"neopixel_pipe"`
}

const defaultHold = 1500 * time.Millisecond

// New creates an Indicator from cfg plus any already-built extras
// (typically the Audio indicator). Returns Noop when nothing is
// configured and a Multi when more than one is.
func New(cfg Config, extra ...Indicator) (Indicator, error) {
	var indicators []Indicator

	hold := cfg.Hold
	if hold <= 0 {
		hold = defaultHold
	}

	if cfg.GreenPin != nil || cfg.YellowPin != nil || cfg.RedPin != nil {
		gpio, err := NewGPIO(cfg.GreenPin, cfg.YellowPin, cfg.RedPin, hold)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, gpio)
	}

	if cfg.GreenLine != nil || cfg.YellowLine != nil || cfg.RedLine != nil {
		line, err := NewLine(cfg.Chip, cfg.GreenLine, cfg.YellowLine, cfg.RedLine, hold)
		if err != nil {
			releaseAll(indicators)
			return nil, err
		}
		indicators = append(indicators, line)
	}

	if cfg.NeopixelPipe != "" {
		neo, err := NewNeopixel(cfg.NeopixelPipe)
		if err != nil {
			releaseAll(indicators)
			return nil, err
		}
		indicators = append(indicators, neo)
	}

	for _, ind := range extra {
		if ind != nil {
			indicators = append(indicators, ind)
		}
	}

	switch len(indicators) {
	case 0:
		return &Noop{}, nil
	case 1:
		return indicators[0], nil
	default:
		return &Multi{indicators: indicators}, nil
	}
}

func releaseAll(indicators []Indicator) {
	for _, ind := range indicators {
		ind.Release()
	}
}
