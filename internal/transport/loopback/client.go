package loopback

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/tablecast/internal/channel"
)

var ErrDisconnected = errors.New("loopback: client disconnected")

// Client is a channel.Transport bound to a Broker.
type Client struct {
	broker *Broker

	mu        sync.Mutex
	connected bool
	closed    bool
	events    channel.ConnectionHandler
	subs      []string
	wg        sync.WaitGroup
}

// NewClient returns a disconnected client of b.
func (b *Broker) NewClient() *Client {
	return &Client{broker: b}
}

func (c *Client) Connect(ctx context.Context, events channel.ConnectionHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	c.broker.mu.Lock()
	closing := c.broker.closing
	c.broker.mu.Unlock()
	if closing {
		return ErrBrokerClosed
	}
	c.events = events
	c.connected = true
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrDisconnected
	}
	_, err := c.broker.Publish(topic, payload)
	return err
}

// Subscribe forwards payloads on topic to fn from a dedicated goroutine
// until ctx is done or the client closes.
func (c *Client) Subscribe(ctx context.Context, topic string, fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	id, ch := c.broker.Subscribe(topic)
	c.subs = append(c.subs, id)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case payload, ok := <-ch:
				if !ok {
					return
				}
				fn(payload)
			case <-ctx.Done():
				c.broker.Unsubscribe(id)
				return
			}
		}
	}()
	return nil
}

// Drop simulates a lost session: publishes fail until Restore.
func (c *Client) Drop(err error) {
	c.mu.Lock()
	c.connected = false
	events := c.events
	c.mu.Unlock()
	if events != nil {
		events.ConnectionLost(err)
	}
}

// Restore simulates the transport reconnecting on its own.
func (c *Client) Restore() {
	c.mu.Lock()
	c.connected = true
	events := c.events
	c.mu.Unlock()
	if events != nil {
		events.Reconnected()
	}
}

// Close unsubscribes and waits for forwarding goroutines to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, id := range subs {
		c.broker.Unsubscribe(id)
	}
	c.wg.Wait()
	return nil
}

var _ channel.Transport = (*Client)(nil)
