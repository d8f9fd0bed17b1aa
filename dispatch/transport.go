package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	DefaultURL     = "http://127.0.0.1:8000/ic_cards/scan"
	DefaultTimeout = 5 * time.Second

	maxResponseBody = 64 << 10
)

// Transport delivers an encoded ScanEvent and returns the response status
// and body. A non-nil error means no response was received.
type Transport interface {
	Post(ctx context.Context, body []byte) (status int, resp []byte, err error)
}

// Config holds the scan endpoint settings.
type Config struct {
	URL      string        `yaml:"url" env:"API_URL"`
	Timeout  time.Duration `yaml:"timeout"`
	CAFile   string        `yaml:"ca_file"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password" env:"FELICAD_API_PASSWORD"`
}

// HTTPTransport posts JSON to the scan endpoint.
type HTTPTransport struct {
	client   *http.Client
	url      string
	username string
	password string
}

// NewHTTPTransport creates an HTTPTransport. The client always has a
// finite timeout.
func NewHTTPTransport(cfg Config) (*HTTPTransport, error) {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
	}

	return &HTTPTransport{
		client:   &http.Client{Transport: transport, Timeout: timeout},
		url:      url,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// URL returns the endpoint the transport posts to.
func (t *HTTPTransport) URL() string {
	return t.url
}

// Post implements Transport.
func (t *HTTPTransport) Post(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post scan: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
