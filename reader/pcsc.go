package reader

import (
	"context"
	"errors"

	"github.com/ebfe/scard"
	"github.com/sirupsen/logrus"

	"felicad/card"
	"felicad/port"
	"felicad/usbdev"
)

// getIDm is the PC/SC GET DATA APDU. It returns the FeliCa IDm (or the
// ISO 14443 UID) followed by the SW1 SW2 status word.
var getIDm = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}

// scardContext is the slice of the PC/SC API the driver uses.
type scardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string) (scardCard, error)
	Release() error
}

type scardCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect() error
}

// PCSC reads RC-S300 readers through pcscd. One context serves every
// attached reader; each reader is mapped to its USB path by correlating
// the sorted PC/SC names with the sorted sysfs paths.
type PCSC struct {
	name      string
	enum      *usbdev.Enumerator
	log       logrus.FieldLogger
	establish func() (scardContext, error)

	ctx      scardContext
	paths    map[string]string
	readers  int
	degraded bool
	mismatch [2]int
}

// NewPCSC creates a PC/SC reader. Nothing is acquired until Open.
func NewPCSC(name string, enum *usbdev.Enumerator, log logrus.FieldLogger) *PCSC {
	return &PCSC{
		name:      name,
		enum:      enum,
		log:       log,
		establish: establishSystem,
		readers:   -1,
	}
}

// Name implements Reader.Name.
func (p *PCSC) Name() string { return p.name }

// Open implements Reader.Open.
func (p *PCSC) Open() error {
	ctx, err := p.establish()
	if err != nil {
		return unavailable("establish PC/SC context (is pcscd running?)", err)
	}
	p.ctx = ctx
	return nil
}

// Poll implements Reader.Poll. Every listed reader is tried in turn and
// the first one holding a card wins.
func (p *PCSC) Poll(ctx context.Context) (Tag, error) {
	if p.ctx == nil {
		return Tag{}, errors.New("pcsc: not open")
	}

	names, err := p.ctx.ListReaders()
	if err != nil {
		return Tag{}, err
	}
	if len(names) != p.readers || p.degraded {
		p.remap(names)
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return Tag{}, ctx.Err()
		}
		c, err := p.ctx.Connect(name)
		if err != nil {
			continue
		}
		resp, err := c.Transmit(getIDm)
		_ = c.Disconnect()
		if err != nil {
			continue
		}

		id, ok := parseGetData(resp)
		if !ok {
			continue
		}
		return Tag{
			ID:     id,
			Model:  port.ModelForName(name),
			Path:   p.paths[name],
			Source: name,
		}, nil
	}
	return Tag{}, nil
}

// Close implements Reader.Close.
func (p *PCSC) Close() error {
	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Release()
	p.ctx = nil
	return err
}

// remap rebuilds the reader name to USB path mapping. It runs when the
// reader count changes and on every poll while the last pairing was
// degraded, so a late sysfs entry heals the mapping.
func (p *PCSC) remap(names []string) {
	paths := p.enum.PathsForProduct(usbdev.ProductRCS300)
	pairing := port.Correlate(names, card.ModelRCS300, usbdev.ProductRCS300, paths)
	counts := [2]int{pairing.Names, pairing.Devices}

	switch {
	case pairing.Mismatch() && (!p.degraded || counts != p.mismatch):
		p.log.Warnf("Reader count mismatch: %d PC/SC readers vs %d USB ports for %s",
			pairing.Names, pairing.Devices, card.ModelRCS300)
	case !pairing.Mismatch() && p.degraded:
		p.log.Infof("Reader correlation recovered for %s", card.ModelRCS300)
	}
	for name, path := range pairing.Paths {
		if p.paths[name] != path {
			p.log.Infof("Mapped %s -> %s", name, path)
		}
	}

	p.paths = pairing.Paths
	p.readers = len(names)
	p.degraded = pairing.Mismatch()
	p.mismatch = counts
}

// parseGetData splits a GET DATA response into the ID and checks the
// status word is 90 00.
func parseGetData(resp []byte) (card.ID, bool) {
	if len(resp) < 4 {
		return nil, false
	}
	sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, false
	}
	id := card.ID(append([]byte(nil), resp[:len(resp)-2]...))
	if len(id) == 0 {
		return nil, false
	}
	return id, true
}

// scard adapters

type systemContext struct {
	c *scard.Context
}

func establishSystem() (scardContext, error) {
	c, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return systemContext{c: c}, nil
}

func (s systemContext) ListReaders() ([]string, error) {
	names, err := s.c.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	return names, err
}

func (s systemContext) Connect(reader string) (scardCard, error) {
	c, err := s.c.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}
	return systemCard{c: c}, nil
}

func (s systemContext) Release() error {
	return s.c.Release()
}

type systemCard struct {
	c *scard.Card
}

func (s systemCard) Transmit(cmd []byte) ([]byte, error) {
	return s.c.Transmit(cmd)
}

func (s systemCard) Disconnect() error {
	return s.c.Disconnect(scard.LeaveCard)
}
