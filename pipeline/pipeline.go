// Package pipeline connects backend reads to the dedup engine and the
// dispatcher.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"felicad/card"
	"felicad/dedup"
	"felicad/dispatch"
	"felicad/indicator"
	"felicad/poller"
)

// Dispatcher sends a ScanEvent. Implemented by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev dispatch.ScanEvent) dispatch.Outcome
}

// LastRead is the most recent card read by any backend.
type LastRead struct {
	IDm     string    `json:"idm"`
	Reader  string    `json:"reader"`
	USBPort *int      `json:"usb_port"`
	Backend string    `json:"backend"`
	ReadAt  time.Time `json:"read_at"`
}

// Pipeline is the poller.Handler shared by every backend.
type Pipeline struct {
	engine     *dedup.Engine
	dispatcher Dispatcher
	indicator  indicator.Indicator
	now        func() time.Time
	log        logrus.FieldLogger

	mu   sync.RWMutex
	last *LastRead
}

// New creates a Pipeline.
func New(engine *dedup.Engine, d Dispatcher, ind indicator.Indicator, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		engine:     engine,
		dispatcher: d,
		indicator:  ind,
		now:        time.Now,
		log:        log.WithField("component", "pipeline"),
	}
}

// Handle implements poller.Handler.
func (p *Pipeline) Handle(ctx context.Context, r poller.Read) {
	model := r.Tag.Model
	if model == "" {
		model = card.ModelUnknown
	}
	now := p.now()
	ev := dispatch.NewScanEvent(r.Tag.ID, r.Port, model, now)
	p.record(ev, r.Backend, now)

	entry := p.log.WithFields(logrus.Fields{
		"idm":     ev.IDm,
		"port":    r.Port.String(),
		"backend": r.Backend,
	})

	switch p.engine.Observe(r.Port, r.Tag.ID) {
	case dedup.SuppressWithSecondarySound:
		entry.Debug("Repeat read, playing again cue")
		p.indicator.Cue(indicator.CueAgain)
		return
	case dedup.SuppressSilently:
		entry.Debug("Repeat read suppressed")
		return
	}

	if p.engine.Policy().Classify(r.Port) == dedup.ClassAdmin {
		p.indicator.Cue(indicator.CueAdmin)
	}
	p.dispatcher.Dispatch(ctx, ev)
}

// Last returns the most recent read, false when nothing has been read.
func (p *Pipeline) Last() (LastRead, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return LastRead{}, false
	}
	return *p.last, true
}

func (p *Pipeline) record(ev dispatch.ScanEvent, backend string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &LastRead{
		IDm:     ev.IDm,
		Reader:  ev.Reader,
		USBPort: ev.USBPort,
		Backend: backend,
		ReadAt:  at,
	}
}
