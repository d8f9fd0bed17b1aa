package reader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kenshaw/evdev"
	"github.com/sirupsen/logrus"

	"felicad/card"
	"felicad/usbdev"
)

// keyWait bounds how long one Poll waits for keystrokes.
const keyWait = 100 * time.Millisecond

// Keyboard reads USB keyboard-wedge readers that type the card ID as hex
// digits followed by Enter.
type Keyboard struct {
	name   string
	device string
	digits int
	enum   *usbdev.Enumerator
	log    logrus.FieldLogger

	dev    *evdev.Evdev
	events <-chan *evdev.EventEnvelope
	cancel context.CancelFunc
	path   string
	buf    strings.Builder
}

// NewKeyboard creates a keyboard-wedge reader on the given input device.
// digits is the expected number of hex digits per card, 0 for any.
func NewKeyboard(name, device string, digits int, enum *usbdev.Enumerator, log logrus.FieldLogger) *Keyboard {
	return &Keyboard{
		name:   name,
		device: device,
		digits: digits,
		enum:   enum,
		log:    log,
	}
}

// Name implements Reader.Name.
func (k *Keyboard) Name() string { return k.name }

// Open implements Reader.Open.
func (k *Keyboard) Open() error {
	dev, err := evdev.OpenFile(k.device)
	if err != nil {
		return unavailable(fmt.Sprintf("open evdev %s", k.device), err)
	}

	k.log.Infof("Opened keyboard device: %s", dev.Name())
	k.log.Infof("Vendor: 0x%04x, Product: 0x%04x", dev.ID().Vendor, dev.ID().Product)

	ctx, cancel := context.WithCancel(context.Background())
	k.dev = dev
	k.cancel = cancel
	k.events = dev.Poll(ctx)

	if path, err := k.enum.PathForNode("input", filepath.Base(k.device)); err == nil {
		k.path = path
	} else {
		k.log.Warnf("No USB path for %s: %v", k.device, err)
	}
	return nil
}

// Poll implements Reader.Poll. Keystrokes typed so far survive across
// calls until Enter completes the line.
func (k *Keyboard) Poll(ctx context.Context) (Tag, error) {
	if k.dev == nil {
		return Tag{}, errors.New("keyboard: not open")
	}

	timer := time.NewTimer(keyWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Tag{}, ctx.Err()
		case <-timer.C:
			return Tag{}, nil
		case event := <-k.events:
			if event == nil {
				return Tag{}, fmt.Errorf("%w: keyboard device closed", ErrDeviceUnavailable)
			}

			switch event.Type.(type) {
			case evdev.KeyType:
				if event.Value != 1 {
					continue
				}
				if event.Type == evdev.KeyEnter {
					line := k.buf.String()
					k.buf.Reset()
					if line == "" {
						continue
					}
					id, ok := k.parse(line)
					if !ok {
						continue
					}
					return Tag{
						ID:     id,
						Model:  card.ModelKeyboard,
						Path:   k.path,
						Source: k.device,
					}, nil
				}
				k.buf.WriteString(evdev.KeyType(event.Code).String())
			}
		}
	}
}

func (k *Keyboard) parse(line string) (card.ID, bool) {
	if k.digits > 0 && len(line) != k.digits {
		k.log.Warnf("Bad badge: expected %d digits, got %d (%q)", k.digits, len(line), line)
		return nil, false
	}
	if len(line)%2 == 1 {
		line = "0" + line
	}
	id, err := card.ParseHex(line)
	if err != nil {
		k.log.Warnf("Bad badge line %q: %v", line, err)
		return nil, false
	}
	return id, true
}

// Close implements Reader.Close.
func (k *Keyboard) Close() error {
	if k.dev == nil {
		return nil
	}
	k.cancel()
	err := k.dev.Close()
	k.dev = nil
	return err
}
