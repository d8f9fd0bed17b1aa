package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"felicad/card"
	"felicad/dedup"
	"felicad/indicator"
	"felicad/port"
)

type stubTransport struct {
	status int
	body   []byte
	err    error
	sent   [][]byte
}

func (s *stubTransport) Post(ctx context.Context, body []byte) (int, []byte, error) {
	s.sent = append(s.sent, body)
	return s.status, s.body, s.err
}

type cueRecorder struct {
	mu   sync.Mutex
	cues []indicator.Cue
}

func (r *cueRecorder) Cue(c indicator.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}
func (r *cueRecorder) Idle()          {}
func (r *cueRecorder) Release() error { return nil }

type pubRecorder struct {
	names   []string
	reports []any
}

func (p *pubRecorder) PublishEvent(name string, v any) error {
	p.names = append(p.names, name)
	p.reports = append(p.reports, v)
	return nil
}

var (
	idm = card.ID{0x01, 0x13, 0xAB, 0xFF, 0x00, 0x11, 0x22, 0x33}
	at  = time.Date(2026, 2, 23, 9, 33, 0, 33_000_000, time.UTC)
)

func TestNewScanEvent(t *testing.T) {
	ev := NewScanEvent(idm, 3, "RC-S300", at)
	assert.Equal(t, "0113ABFF00112233", ev.IDm)
	assert.Equal(t, "2026-02-23T09:33:00.033Z", ev.Timestamp)
	assert.Len(t, ev.Timestamp, 24)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, port.Number(3), ev.Port())

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idm":"0113ABFF00112233","usb_port":3,"reader":"RC-S300","timestamp":"2026-02-23T09:33:00.033Z"}`, string(b))

	ev = NewScanEvent(idm, port.None, "RC-S320", at.In(time.FixedZone("JST", 9*3600)))
	b, err = json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idm":"0113ABFF00112233","usb_port":null,"reader":"RC-S320","timestamp":"2026-02-23T09:33:00.033Z"}`, string(b))
	assert.Equal(t, port.None, ev.Port())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Accepted, Classify(200, nil, nil).Kind)
	assert.Equal(t, Forbidden, Classify(403, nil, nil).Kind)
	assert.Equal(t, NotFound, Classify(404, nil, nil).Kind)
	assert.Equal(t, TransportError, Classify(201, nil, nil).Kind)
	assert.Equal(t, TransportError, Classify(500, nil, nil).Kind)

	o := Classify(400, []byte(`{"detail":{"error_code":"LIMIT_REACHED","message":"daily limit"}}`), nil)
	assert.Equal(t, Duplicate, o.Kind)
	assert.Equal(t, "LIMIT_REACHED", o.Code)
	assert.Equal(t, "", Classify(400, []byte(`{"detail":"bad request"}`), nil).Code)
	assert.Equal(t, "", Classify(400, []byte(`not json`), nil).Code)

	o = Classify(0, nil, errors.New("connection refused"))
	assert.Equal(t, TransportError, o.Kind)
	assert.Error(t, o.Err)
}

func TestCueFor(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		class dedup.Class
		cue   indicator.Cue
		ok    bool
	}{
		{"accepted payment", Accepted, dedup.ClassPayment, indicator.CueAccepted, true},
		{"accepted plain", Accepted, dedup.ClassPlain, indicator.CueAccepted, true},
		{"duplicate payment", Duplicate, dedup.ClassPayment, indicator.CuePayback, true},
		{"duplicate plain", Duplicate, dedup.ClassPlain, indicator.CueAccepted, true},
		{"forbidden", Forbidden, dedup.ClassPlain, indicator.CueActivate, true},
		{"not found", NotFound, dedup.ClassPayment, indicator.CueRegister, true},
		{"transport", TransportError, dedup.ClassPlain, indicator.CueError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cue, ok := CueFor(Outcome{Kind: tt.kind}, tt.class)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cue, cue)
		})
	}

	for _, k := range []Kind{Accepted, Duplicate, Forbidden, NotFound, TransportError} {
		_, ok := CueFor(Outcome{Kind: k}, dedup.ClassAdmin)
		assert.False(t, ok, "admin port got a cue for %s", k)
	}
}

func newDispatcher(tr Transport) (*Dispatcher, *cueRecorder, *pubRecorder) {
	log, _ := test.NewNullLogger()
	cues, pub := &cueRecorder{}, &pubRecorder{}
	return New(tr, dedup.NewPolicy(dedup.DefaultConfig()), cues, pub, log), cues, pub
}

func TestDispatchStatusTable(t *testing.T) {
	tests := []struct {
		status int
		port   port.Number
		kind   Kind
		cues   []indicator.Cue
	}{
		{200, 1, Accepted, []indicator.Cue{indicator.CueAccepted}},
		{400, 2, Duplicate, []indicator.Cue{indicator.CuePayback}},
		{400, 6, Duplicate, []indicator.Cue{indicator.CueAccepted}},
		{403, 7, Forbidden, []indicator.Cue{indicator.CueActivate}},
		{404, 3, NotFound, []indicator.Cue{indicator.CueRegister}},
		{502, port.None, TransportError, []indicator.Cue{indicator.CueError}},
		{200, 5, Accepted, nil},
		{404, 5, NotFound, nil},
	}
	for _, tt := range tests {
		tr := &stubTransport{status: tt.status}
		d, cues, pub := newDispatcher(tr)

		o := d.Dispatch(context.Background(), NewScanEvent(idm, tt.port, "RC-S300", at))
		assert.Equal(t, tt.kind, o.Kind, "status %d port %s", tt.status, tt.port)
		assert.Equal(t, tt.cues, cues.cues, "status %d port %s", tt.status, tt.port)
		assert.Len(t, tr.sent, 1)
		assert.Equal(t, []string{"scan"}, pub.names)
	}
}

func TestDispatchTransportFailure(t *testing.T) {
	tr := &stubTransport{err: errors.New("dial tcp 127.0.0.1:8000: connection refused")}
	d, cues, pub := newDispatcher(tr)

	o := d.Dispatch(context.Background(), NewScanEvent(idm, 4, "RC-S300", at))
	assert.Equal(t, TransportError, o.Kind)
	assert.Equal(t, []indicator.Cue{indicator.CueError}, cues.cues)

	require.Len(t, pub.reports, 1)
	r := pub.reports[0].(report)
	assert.Equal(t, "transport_error", r.Outcome)
	assert.Equal(t, "0113ABFF00112233", r.IDm)
}

func TestHTTPTransport(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ic_cards/scan", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "scanner", user)
		assert.Equal(t, "secret", pass)

		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &got))
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":{"error_code":"LIMIT_REACHED"}}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(Config{URL: srv.URL + "/ic_cards/scan", Username: "scanner", Password: "secret"})
	require.NoError(t, err)
	d, cues, _ := newDispatcher(tr)

	o := d.Dispatch(context.Background(), NewScanEvent(idm, 1, "RC-S300", at))
	assert.Equal(t, Duplicate, o.Kind)
	assert.Equal(t, 400, o.Status)
	assert.Equal(t, "LIMIT_REACHED", o.Code)
	assert.Equal(t, []indicator.Cue{indicator.CuePayback}, cues.cues)
	assert.Equal(t, "0113ABFF00112233", got["idm"])
	assert.Equal(t, float64(1), got["usb_port"])
}

func TestHTTPTransportTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr, err := NewHTTPTransport(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	status, _, err := tr.Post(context.Background(), []byte(`{}`))
	assert.Error(t, err)
	assert.Zero(t, status)
}

func TestNewHTTPTransportDefaults(t *testing.T) {
	tr, err := NewHTTPTransport(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, tr.URL())
	assert.Equal(t, DefaultTimeout, tr.client.Timeout)

	_, err = NewHTTPTransport(Config{CAFile: t.TempDir() + "/missing.pem"})
	assert.Error(t, err)
}
