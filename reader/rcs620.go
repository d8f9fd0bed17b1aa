package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"felicad/card"
	"felicad/usbdev"
)

var (
	frameACK      = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	framePreamble = []byte{0x00, 0x00, 0xFF}

	errBadFrame = errors.New("bad frame")
)

// RCS620 reads an RC-S620/S FeliCa module over a serial line.
// Frames: [00 00 FF][LEN][LCS][data...][DCS][00], LCS and DCS being
// two's complement checksums of LEN and data.
type RCS620 struct {
	name       string
	device     string
	baud       int
	systemCode uint16
	enum       *usbdev.Enumerator
	log        logrus.FieldLogger
	openPort   func(c *serial.Config) (io.ReadWriteCloser, error)

	port io.ReadWriteCloser
	path string
}

// NewRCS620 creates a serial RC-S620/S reader.
func NewRCS620(name, device string, baud int, systemCode uint16, enum *usbdev.Enumerator, log logrus.FieldLogger) *RCS620 {
	if baud == 0 {
		baud = 115200
	}
	return &RCS620{
		name:       name,
		device:     device,
		baud:       baud,
		systemCode: systemCode,
		enum:       enum,
		log:        log,
		openPort: func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// Name implements Reader.Name.
func (r *RCS620) Name() string { return r.name }

// Open implements Reader.Open.
func (r *RCS620) Open() error {
	c := &serial.Config{
		Name:        r.device,
		Baud:        r.baud,
		ReadTimeout: time.Second,
	}
	p, err := r.openPort(c)
	if err != nil {
		return unavailable(fmt.Sprintf("open serial %s", r.device), err)
	}
	r.port = p

	if err := r.initDevice(); err != nil {
		r.Close()
		return unavailable("init RC-S620/S", err)
	}

	if path, err := r.enum.PathForNode("tty", filepath.Base(r.device)); err == nil {
		r.path = path
	} else {
		r.log.Warnf("No USB path for %s: %v", r.device, err)
	}
	return nil
}

func (r *RCS620) initDevice() error {
	if _, err := r.port.Write(frameACK); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	setup := [][]byte{
		{0xD4, 0x32, 0x02, 0x00, 0x00, 0x00}, // RFConfiguration: timings
		{0xD4, 0x32, 0x05, 0x00, 0x00, 0x00}, // RFConfiguration: retries
		{0xD4, 0x32, 0x81, 0xB7},             // RFConfiguration: additional wait
	}
	for _, cmd := range setup {
		resp, err := r.command(cmd)
		if err != nil {
			return err
		}
		if !bytes.Equal(resp, []byte{0xD5, 0x33}) {
			return fmt.Errorf("RFConfiguration: unexpected response % X", resp)
		}
	}
	return nil
}

// Poll implements Reader.Poll with InListPassiveTarget, FeliCa 212 kbps.
func (r *RCS620) Poll(ctx context.Context) (Tag, error) {
	if r.port == nil {
		return Tag{}, errors.New("rcs620: not open")
	}

	cmd := []byte{0xD4, 0x4A, 0x01, 0x01, 0x00, byte(r.systemCode >> 8), byte(r.systemCode), 0x00, 0x0F}
	resp, err := r.command(cmd)
	if err != nil {
		return Tag{}, err
	}
	id, ok := parsePolling(resp)
	if !ok {
		return Tag{}, nil
	}
	return Tag{
		ID:     id,
		Model:  card.ModelRCS620,
		Path:   r.path,
		Source: r.device,
	}, nil
}

// Close implements Reader.Close.
func (r *RCS620) Close() error {
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}

// command sends one command frame, waits for the ACK and returns the
// response data.
func (r *RCS620) command(cmd []byte) ([]byte, error) {
	if _, err := r.port.Write(encodeFrame(cmd)); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	ack := make([]byte, len(frameACK))
	if _, err := io.ReadFull(r.port, ack); err != nil {
		return nil, fmt.Errorf("read ack: %w", err)
	}
	if !bytes.Equal(ack, frameACK) {
		return nil, fmt.Errorf("%w: ack % X", errBadFrame, ack)
	}
	return readFrame(r.port)
}

func encodeFrame(cmd []byte) []byte {
	n := byte(len(cmd))
	buf := make([]byte, 0, len(cmd)+7)
	buf = append(buf, framePreamble...)
	buf = append(buf, n, 0-n)
	buf = append(buf, cmd...)
	return append(buf, checksum(cmd), 0x00)
}

func readFrame(rd io.Reader) ([]byte, error) {
	head := make([]byte, 5)
	if _, err := io.ReadFull(rd, head); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(head[:3], framePreamble) || head[3]+head[4] != 0 {
		return nil, fmt.Errorf("%w: header % X", errBadFrame, head)
	}

	body := make([]byte, int(head[3])+2)
	if _, err := io.ReadFull(rd, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	data := body[:head[3]]
	if body[len(body)-2] != checksum(data) || body[len(body)-1] != 0x00 {
		return nil, fmt.Errorf("%w: checksum", errBadFrame)
	}
	return data, nil
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0 - sum
}

// parsePolling extracts the IDm from an InListPassiveTarget response:
// D5 4B [NbTg=1] [Tg=1] [len=0x12] [01] IDm(8) PMm(8).
func parsePolling(resp []byte) (card.ID, bool) {
	if len(resp) != 22 || !bytes.HasPrefix(resp, []byte{0xD5, 0x4B, 0x01, 0x01, 0x12, 0x01}) {
		return nil, false
	}
	id := card.ID(append([]byte(nil), resp[6:14]...))
	return id, !id.Empty()
}
