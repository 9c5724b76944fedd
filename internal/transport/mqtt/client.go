// Package mqtt carries channel traffic over an MQTT broker. Paho owns the
// network goroutines and the automatic reconnect loop; this package maps
// its callbacks onto channel.ConnectionHandler.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/tablecast/internal/channel"
)

var ErrNotConnected = errors.New("mqtt: not connected")

// Config describes one broker session.
type Config struct {
	Broker   string // host name
	Port     int
	Username string
	Password string
	TLS      bool
	// ClientID defaults to a random "tablecast-<uuid>".
	ClientID string
	// QoS applies to publishes and subscriptions. Scene traffic is
	// best-effort, so the default is 0.
	QoS            byte
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

func (c Config) brokerURL() string {
	scheme := "tcp"
	if c.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, c.Port)
}

// newPahoClient is replaced in tests.
var newPahoClient = paho.NewClient

type subscription struct {
	topic string
	fn    func([]byte)
}

// Client is a channel.Transport backed by paho.
type Client struct {
	cfg  Config
	opts *paho.ClientOptions

	mu     sync.Mutex
	client paho.Client
	events channel.ConnectionHandler
	subs   []subscription
	closed bool

	// Paho calls OnConnect for the first connection and for every
	// automatic reconnect; only the latter are reported upstream.
	connects atomic.Int64
}

// New builds a client. No network I/O happens until Connect.
func New(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "tablecast-" + uuid.NewString()
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	c := &Client{cfg: cfg}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.brokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		log.Printf("[MQTT] Reconnecting to %s", cfg.brokerURL())
	})
	c.opts = opts
	return c
}

// ClientID returns the id presented to the broker.
func (c *Client) ClientID() string { return c.cfg.ClientID }

// Connect dials the broker and waits for the CONNACK or ctx.
func (c *Client) Connect(ctx context.Context, events channel.ConnectionHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.events = events
	if c.client == nil {
		c.client = newPahoClient(c.opts)
	}
	client := c.client
	c.mu.Unlock()

	log.Printf("[MQTT] Connecting to %s as %s", c.cfg.brokerURL(), c.cfg.ClientID)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", c.cfg.brokerURL(), err)
	}
	log.Printf("[MQTT] Connected")
	return nil
}

func (c *Client) onConnect(client paho.Client) {
	if c.connects.Add(1) == 1 {
		return
	}
	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	events := c.events
	c.mu.Unlock()

	// Clean sessions drop subscriptions on the broker side.
	for _, s := range subs {
		tok := client.Subscribe(s.topic, c.cfg.QoS, handler(s.fn))
		if tok.WaitTimeout(c.cfg.PublishTimeout) && tok.Error() != nil {
			log.Printf("[MQTT] Resubscribe to %q failed: %v", s.topic, tok.Error())
		}
	}
	log.Printf("[MQTT] Reconnected, %d subscriptions restored", len(subs))
	if events != nil {
		events.Reconnected()
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	log.Printf("[MQTT] Connection lost: %v", err)
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events != nil {
		events.ConnectionLost(err)
	}
}

func handler(fn func([]byte)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		fn(msg.Payload())
	}
}

func (c *Client) connected() (paho.Client, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return nil, ErrNotConnected
	}
	return client, nil
}

// Publish sends payload and waits for paho to hand it to the network.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	if err := wait(ctx, client.Publish(topic, c.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt: publish %q: %w", topic, err)
	}
	return nil
}

// Subscribe registers fn for topic. The subscription is restored after
// every automatic reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, fn func([]byte)) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	if err := wait(ctx, client.Subscribe(topic, c.cfg.QoS, handler(fn))); err != nil {
		return fmt.Errorf("mqtt: subscribe %q: %w", topic, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic: topic, fn: fn})
	c.mu.Unlock()
	log.Printf("[MQTT] Subscribed to %q", topic)
	return nil
}

// Close disconnects, allowing 250ms for in-flight work.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.events = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ channel.Transport = (*Client)(nil)
