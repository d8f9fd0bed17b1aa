package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	topicPrefix         = "felicad/status/node"
	defaultPingInterval = 120 * time.Second
	publishTimeout      = 2 * time.Second
)

// Client wraps the MQTT client with the daemon's status topics.
type Client struct {
	client       paho.Client
	clientID     string
	enabled      bool
	pingInterval time.Duration
	log          logrus.FieldLogger
}

// Config holds MQTT connection settings.
type Config struct {
	Host         string        `yaml:"host" env:"FELICAD_MQTT_HOST"`
	Port         int           `yaml:"port"`
	CACert       string        `yaml:"ca_cert"`
	ClientCert   string        `yaml:"client_cert"`
	ClientKey    string        `yaml:"client_key"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config, clientID string, log logrus.FieldLogger) (*Client, error) {
	entry := log.WithField("component", "mqtt")
	c := &Client{
		clientID:     clientID,
		pingInterval: cfg.PingInterval,
		log:          entry,
	}
	if c.pingInterval <= 0 {
		c.pingInterval = defaultPingInterval
	}

	if cfg.Host == "" {
		entry.Info("MQTT disabled (no host configured)")
		return c, nil
	}

	c.enabled = true

	var broker string
	var tlsConfig *tls.Config

	if cfg.CACert != "" || cfg.ClientCert != "" {
		if cfg.Port == 0 {
			cfg.Port = 8883
		}
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)

		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
		entry.Warn("MQTT using non-TLS connection")
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)

	paho.ERROR = stdlog.New(entry.WriterLevel(logrus.ErrorLevel), "", 0)
	paho.CRITICAL = stdlog.New(entry.WriterLevel(logrus.ErrorLevel), "", 0)
	paho.WARN = stdlog.New(entry.WriterLevel(logrus.WarnLevel), "", 0)

	return c, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect starts connecting to the broker. With SetConnectRetry the
// client keeps retrying in the background, so Connect does not wait
// for the broker to answer. No-op if disabled.
func (c *Client) Connect() error {
	if !c.enabled {
		return nil
	}
	token := c.client.Connect()
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect disconnects from the MQTT broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// Topic returns the status topic for this node, e.g.
// felicad/status/node/<client id>/scan.
func (c *Client) Topic(name string) string {
	return fmt.Sprintf("%s/%s/%s", topicPrefix, c.clientID, name)
}

// PublishEvent publishes v as JSON on Topic(name). No-op if disabled.
func (c *Client) PublishEvent(name string, v any) error {
	if !c.enabled {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	c.client.Publish(c.Topic(name), 0, false, payload)
	return nil
}

// RunPing publishes a ping every interval until ctx is cancelled.
func (c *Client) RunPing(ctx context.Context) {
	if !c.enabled {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.client.Publish(c.Topic("ping"), 0, false, `{"status":"ok"}`)
		}
	}
}

func (c *Client) handleConnect(client paho.Client) {
	c.log.Info("MQTT connection established")
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	c.log.WithError(err).Warn("MQTT connection lost")
}
