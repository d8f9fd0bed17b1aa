package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"felicad/card"
	"felicad/port"
)

// TimestampFormat is ISO-8601 UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ScanEvent is the notification body posted to the scan endpoint.
type ScanEvent struct {
	ID        string `json:"-"`
	IDm       string `json:"idm"`
	USBPort   *int   `json:"usb_port"`
	Reader    string `json:"reader"`
	Timestamp string `json:"timestamp"`
}

// NewScanEvent builds the event for a read of id on logical port n.
// usb_port is null when n is None.
func NewScanEvent(id card.ID, n port.Number, reader string, at time.Time) ScanEvent {
	ev := ScanEvent{
		ID:        uuid.NewString(),
		IDm:       card.HexUpper(id),
		Reader:    reader,
		Timestamp: at.UTC().Format(TimestampFormat),
	}
	if n.Valid() {
		p := int(n)
		ev.USBPort = &p
	}
	return ev
}

// Port returns the logical port the event was read on.
func (e ScanEvent) Port() port.Number {
	if e.USBPort == nil {
		return port.None
	}
	return port.Number(*e.USBPort)
}

// Kind classifies the endpoint's answer.
type Kind int

const (
	Accepted Kind = iota + 1
	Duplicate
	NotFound
	Forbidden
	TransportError
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case TransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one dispatch.
type Outcome struct {
	Kind   Kind
	Status int    // HTTP status, 0 when no response arrived
	Code   string // business error code from a 400 body, e.g. LIMIT_REACHED
	Err    error  // set for TransportError
}

// report is the MQTT payload for a dispatched scan.
type report struct {
	ID        string `json:"id"`
	IDm       string `json:"idm"`
	USBPort   *int   `json:"usb_port"`
	Reader    string `json:"reader"`
	Timestamp string `json:"timestamp"`
	Outcome   string `json:"outcome"`
	Status    int    `json:"status,omitempty"`
	Code      string `json:"code,omitempty"`
}

func newReport(ev ScanEvent, o Outcome) report {
	return report{
		ID:        ev.ID,
		IDm:       ev.IDm,
		USBPort:   ev.USBPort,
		Reader:    ev.Reader,
		Timestamp: ev.Timestamp,
		Outcome:   o.Kind.String(),
		Status:    o.Status,
		Code:      o.Code,
	}
}
