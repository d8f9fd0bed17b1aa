package indicator

import (
	"sync"
	"time"
)

// lamp drives up to three colored outputs. A cue lights one color and
// a timer returns the lamp to idle (all off) after hold.
type lamp struct {
	mu    sync.Mutex
	set   func(c color, on bool)
	hold  time.Duration
	timer *time.Timer
}

func (l *lamp) show(c color) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.off()
	l.set(c, true)

	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.hold, l.idle)
}

func (l *lamp) idle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.off()
}

func (l *lamp) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.off()
}

func (l *lamp) off() {
	for _, c := range []color{green, yellow, red} {
		l.set(c, false)
	}
}
