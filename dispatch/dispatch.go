// Package dispatch posts scan events to the backend API and turns the
// answer into user feedback.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"felicad/dedup"
	"felicad/indicator"
)

// Publisher receives a report of every dispatched event.
type Publisher interface {
	PublishEvent(name string, v any) error
}

// Dispatcher sends ScanEvents and plays the cue for each outcome.
type Dispatcher struct {
	transport Transport
	policy    dedup.Policy
	indicator indicator.Indicator
	publisher Publisher
	tracer    trace.Tracer
	log       logrus.FieldLogger
}

// New creates a Dispatcher. publisher may be nil.
func New(t Transport, policy dedup.Policy, ind indicator.Indicator, publisher Publisher, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		transport: t,
		policy:    policy,
		indicator: ind,
		publisher: publisher,
		tracer:    otel.Tracer("felicad/dispatch"),
		log:       log.WithField("component", "dispatch"),
	}
}

// Dispatch posts ev and signals the outcome. It never returns an error:
// failures are folded into a TransportError outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, ev ScanEvent) Outcome {
	n := ev.Port()
	class := d.policy.Classify(n)

	ctx, span := d.tracer.Start(ctx, "dispatch.scan", trace.WithAttributes(
		attribute.String("felicad.idm", ev.IDm),
		attribute.Int("felicad.usb_port", int(n)),
		attribute.String("felicad.port_class", class.String()),
		attribute.String("felicad.reader", ev.Reader),
	))
	defer span.End()

	var o Outcome
	body, err := json.Marshal(ev)
	if err != nil {
		o = Outcome{Kind: TransportError, Err: fmt.Errorf("marshal scan event: %w", err)}
	} else {
		o = Classify(d.transport.Post(ctx, body))
	}

	span.SetAttributes(
		attribute.Int("http.response.status_code", o.Status),
		attribute.String("felicad.outcome", o.Kind.String()),
	)
	if o.Kind == TransportError {
		span.SetStatus(codes.Error, errString(o))
	}

	entry := d.log.WithFields(logrus.Fields{
		"event":   ev.ID,
		"idm":     ev.IDm,
		"port":    n.String(),
		"status":  o.Status,
		"outcome": o.Kind.String(),
	})
	switch {
	case o.Err != nil:
		entry.WithError(o.Err).Warn("Scan not delivered")
	case o.Kind == TransportError:
		entry.Warn("Scan rejected")
	default:
		if o.Code != "" {
			entry = entry.WithField("code", o.Code)
		}
		entry.Info("Scan delivered")
	}

	if cue, ok := CueFor(o, class); ok {
		d.indicator.Cue(cue)
	}

	if d.publisher != nil {
		if err := d.publisher.PublishEvent("scan", newReport(ev, o)); err != nil {
			d.log.WithError(err).Warn("Failed to publish scan report")
		}
	}
	return o
}

// Classify maps a transport result to an Outcome. Any status other than
// 200, 400, 403 or 404, and any failure to get a response, is a
// TransportError.
func Classify(status int, body []byte, err error) Outcome {
	if err != nil && status == 0 {
		return Outcome{Kind: TransportError, Err: err}
	}
	switch status {
	case http.StatusOK:
		return Outcome{Kind: Accepted, Status: status}
	case http.StatusBadRequest:
		return Outcome{Kind: Duplicate, Status: status, Code: errorCode(body)}
	case http.StatusForbidden:
		return Outcome{Kind: Forbidden, Status: status}
	case http.StatusNotFound:
		return Outcome{Kind: NotFound, Status: status}
	default:
		return Outcome{Kind: TransportError, Status: status}
	}
}

// CueFor returns the cue to play after a dispatch. Admin ports get no
// post-dispatch cue, their cue is played before the request.
func CueFor(o Outcome, class dedup.Class) (indicator.Cue, bool) {
	if class == dedup.ClassAdmin {
		return 0, false
	}
	switch o.Kind {
	case Accepted:
		return indicator.CueAccepted, true
	case Duplicate:
		if class == dedup.ClassPayment {
			return indicator.CuePayback, true
		}
		return indicator.CueAccepted, true
	case Forbidden:
		return indicator.CueActivate, true
	case NotFound:
		return indicator.CueRegister, true
	default:
		return indicator.CueError, true
	}
}

// errorCode extracts detail.error_code from a 400 body, "" when absent.
func errorCode(body []byte) string {
	var resp struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &resp) != nil || len(resp.Detail) == 0 {
		return ""
	}
	var detail struct {
		ErrorCode string `json:"error_code"`
	}
	if json.Unmarshal(resp.Detail, &detail) != nil {
		return ""
	}
	return detail.ErrorCode
}

func errString(o Outcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return fmt.Sprintf("unexpected status %d", o.Status)
}
