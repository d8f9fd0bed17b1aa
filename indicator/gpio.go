package indicator

import (
	"fmt"
	"time"

	"github.com/hjkoskel/govattu"
)

// GPIO implements Indicator using discrete memory-mapped GPIO LED pins.
type GPIO struct {
	hw   govattu.Vattu
	pins map[color]uint8
	lamp lamp
}

// NewGPIO creates a new GPIO-based indicator.
func NewGPIO(greenPin, yellowPin, redPin *uint8, hold time.Duration) (*GPIO, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	g := &GPIO{hw: hw, pins: make(map[color]uint8)}
	for c, pin := range map[color]*uint8{green: greenPin, yellow: yellowPin, red: redPin} {
		if pin == nil {
			continue
		}
		hw.PinMode(*pin, govattu.ALToutput)
		hw.PinClear(*pin)
		g.pins[c] = *pin
	}
	g.lamp = lamp{set: g.set, hold: hold}
	return g, nil
}

// Cue implements Indicator.Cue.
func (g *GPIO) Cue(c Cue) {
	g.lamp.show(c.color())
}

// Idle implements Indicator.Idle.
func (g *GPIO) Idle() {
	g.lamp.idle()
}

// Release implements Indicator.Release.
func (g *GPIO) Release() error {
	g.lamp.stop()
	return g.hw.Close()
}

func (g *GPIO) set(c color, on bool) {
	pin, ok := g.pins[c]
	if !ok {
		return
	}
	if on {
		g.hw.PinSet(pin)
	} else {
		g.hw.PinClear(pin)
	}
}
