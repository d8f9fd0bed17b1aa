package indicator

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const defaultChip = "gpiochip0"

// Line implements Indicator using LEDs on GPIO character device lines.
type Line struct {
	lines map[color]*gpiocdev.Line
	lamp  lamp
}

// NewLine requests the given offsets on chip as outputs, initially low.
func NewLine(chip string, greenLine, yellowLine, redLine *int, hold time.Duration) (*Line, error) {
	if chip == "" {
		chip = defaultChip
	}

	l := &Line{lines: make(map[color]*gpiocdev.Line)}
	for c, offset := range map[color]*int{green: greenLine, yellow: yellowLine, red: redLine} {
		if offset == nil {
			continue
		}
		line, err := gpiocdev.RequestLine(chip, *offset, gpiocdev.AsOutput(0))
		if err != nil {
			l.Release()
			return nil, fmt.Errorf("request %s line %d: %w", chip, *offset, err)
		}
		l.lines[c] = line
	}
	l.lamp = lamp{set: l.set, hold: hold}
	return l, nil
}

// Cue implements Indicator.Cue.
func (l *Line) Cue(c Cue) {
	l.lamp.show(c.color())
}

// Idle implements Indicator.Idle.
func (l *Line) Idle() {
	l.lamp.idle()
}

// Release implements Indicator.Release.
func (l *Line) Release() error {
	if l.lamp.set != nil {
		l.lamp.stop()
	}
	var lastErr error
	for _, line := range l.lines {
		if err := line.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (l *Line) set(c color, on bool) {
	line, ok := l.lines[c]
	if !ok {
		return
	}
	v := 0
	if on {
		v = 1
	}
	line.SetValue(v)
}
