// Package poller runs one reader in its own loop and hands each new card
// read to a Handler.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"felicad/card"
	"felicad/device"
	"felicad/port"
)

const (
	DefaultInterval    = 300 * time.Millisecond
	DefaultCooldown    = 2 * time.Second
	DefaultCoolingTick = 150 * time.Millisecond
)

// Read is a card read attributed to a logical port.
type Read struct {
	Tag     device.Tag
	Port    port.Number
	Backend string
}

// Handler consumes reads. Handle is called synchronously from the
// backend goroutine, in poll order.
type Handler interface {
	Handle(ctx context.Context, r Read)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r Read)

func (f HandlerFunc) Handle(ctx context.Context, r Read) { f(ctx, r) }

// Backend owns one Reader. It is either idle (polling) or cooling down
// after a read, during which the reader is not polled at all.
type Backend struct {
	reader  device.Reader
	ports   *port.Table
	handler Handler
	log     logrus.FieldLogger

	interval time.Duration
	cooldown time.Duration
	tick     time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	last  card.ID
	since time.Time
}

// New creates a Backend for r using the cadence fields of cfg.
func New(r device.Reader, cfg device.Config, ports *port.Table, h Handler, log logrus.FieldLogger) *Backend {
	b := &Backend{
		reader:   r,
		ports:    ports,
		handler:  h,
		log:      log.WithField("backend", r.Name()),
		interval: cfg.Interval,
		cooldown: cfg.Cooldown,
		tick:     cfg.CoolingTick,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	if b.interval <= 0 {
		b.interval = DefaultInterval
	}
	if b.cooldown <= 0 {
		b.cooldown = DefaultCooldown
	}
	if b.tick <= 0 {
		b.tick = DefaultCoolingTick
	}
	return b
}

// Name returns the reader's name.
func (b *Backend) Name() string {
	return b.reader.Name()
}

// Run opens the reader and polls it until ctx is cancelled, which returns
// nil. An Open failure, or a Poll error wrapping
// device.ErrUnavailable, ends this backend only and is returned.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.reader.Open(); err != nil {
		b.log.WithError(err).Error("Failed to open reader")
		b.reader.Close()
		return err
	}
	defer b.reader.Close()
	b.log.Info("Reader started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if b.last != nil {
			if b.now().Sub(b.since) < b.cooldown {
				if !b.sleep(ctx, b.tick) {
					return nil
				}
				continue
			}
			b.last = nil
		}

		if err := b.poll(ctx); err != nil {
			return err
		}
		if !b.sleep(ctx, b.interval) {
			return nil
		}
	}
}

func (b *Backend) poll(ctx context.Context) error {
	tag, err := b.reader.Poll(ctx)
	switch {
	case errors.Is(err, device.ErrUnavailable):
		b.log.WithError(err).Error("Reader lost")
		return err
	case err != nil:
		b.log.WithError(err).Debug("Poll failed")
		return nil
	case tag.Empty() || tag.ID.Equal(b.last):
		return nil
	}

	r := Read{
		Tag:     tag,
		Port:    b.ports.Lookup(tag.Path),
		Backend: b.reader.Name(),
	}
	b.log.WithFields(logrus.Fields{
		"idm":  tag.ID.String(),
		"port": r.Port.String(),
		"path": tag.Path,
	}).Info("Card read")

	b.handler.Handle(ctx, r)

	b.last = tag.ID
	b.since = b.now()
	return nil
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
