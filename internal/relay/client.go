package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/tablecast/internal/channel"
)

var ErrClientClosed = errors.New("relay: client closed")

// Backoff bounds for re-opening a broken subscription stream.
const (
	minRetry = 100 * time.Millisecond
	maxRetry = 5 * time.Second
)

// Client is a channel.Transport speaking to a relay Server.
type Client struct {
	addr string
	name string

	mu     sync.Mutex
	conn   *grpc.ClientConn
	events channel.ConnectionHandler
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient returns a client for the relay at addr. name is reported to
// the relay for logging.
func NewClient(addr, name string) *Client {
	return &Client{addr: addr, name: name}
}

// Connect dials the relay and blocks until the connection is ready or ctx
// is done. Connectivity changes afterwards are reported to events.
func (c *Client) Connect(ctx context.Context, events channel.ConnectionHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn == nil {
		conn, err := grpc.NewClient(c.addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.ForceCodec(jsonCodec{}),
				grpc.MaxCallRecvMsgSize(maxMsgSize),
			),
		)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("relay: dial %s: %w", c.addr, err)
		}
		c.conn = conn
	}
	conn := c.conn
	c.events = events
	c.mu.Unlock()

	conn.Connect()
	for {
		st := conn.GetState()
		if st == connectivity.Ready {
			break
		}
		if !conn.WaitForStateChange(ctx, st) {
			return fmt.Errorf("relay: connect %s: %w (last state %s)", c.addr, ctx.Err(), st)
		}
	}
	log.Printf("[Relay] Connected to %s", c.addr)

	watchCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.watch(watchCtx, conn)
	return nil
}

// watch turns connectivity transitions into ConnectionLost and
// Reconnected events.
func (c *Client) watch(ctx context.Context, conn *grpc.ClientConn) {
	defer c.wg.Done()
	ready := true
	st := connectivity.Ready
	for conn.WaitForStateChange(ctx, st) {
		st = conn.GetState()
		c.mu.Lock()
		events := c.events
		c.mu.Unlock()
		switch {
		case st == connectivity.Ready && !ready:
			ready = true
			log.Printf("[Relay] Reconnected to %s", c.addr)
			if events != nil {
				events.Reconnected()
			}
		case st != connectivity.Ready && ready:
			ready = false
			if events != nil {
				events.ConnectionLost(fmt.Errorf("relay: connection %s", st))
			}
			// Idle connections do not redial on their own.
			if st == connectivity.Idle {
				conn.Connect()
			}
		case st == connectivity.Idle:
			conn.Connect()
		}
	}
}

func (c *Client) connection() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn == nil {
		return nil, fmt.Errorf("relay: not connected")
	}
	return c.conn, nil
}

// Publish sends one envelope. It fails fast while the connection is down.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	var reply PublishReply
	if err := conn.Invoke(ctx, publishMethod, &Envelope{Topic: topic, Payload: payload}, &reply); err != nil {
		return fmt.Errorf("relay: publish %q: %w", topic, err)
	}
	return nil
}

// Subscribe streams topic to fn until ctx is done or the client closes.
// A broken stream is reopened with exponential backoff.
func (c *Client) Subscribe(ctx context.Context, topic string, fn func([]byte)) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	stream, err := c.openStream(ctx, conn, topic)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		retry := minRetry
		for {
			if stream != nil {
				err := receive(stream, fn)
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Relay] Stream for %q ended: %v", topic, err)
				retry = minRetry
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			if _, err := c.connection(); err != nil {
				return
			}
			next, err := c.openStream(ctx, conn, topic)
			if err != nil {
				stream = nil
				retry = min(retry*2, maxRetry)
				continue
			}
			stream = next
		}
	}()
	return nil
}

func (c *Client) openStream(ctx context.Context, conn *grpc.ClientConn, topic string) (grpc.ClientStream, error) {
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], subscribeMethod, grpc.WaitForReady(true))
	if err != nil {
		return nil, fmt.Errorf("relay: subscribe %q: %w", topic, err)
	}
	if err := stream.SendMsg(&SubscribeRequest{Topic: topic, Client: c.name}); err != nil {
		return nil, fmt.Errorf("relay: subscribe %q: %w", topic, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("relay: subscribe %q: %w", topic, err)
	}
	return stream, nil
}

func receive(stream grpc.ClientStream, fn func([]byte)) error {
	for {
		var env Envelope
		if err := stream.RecvMsg(&env); err != nil {
			return err
		}
		fn(env.Payload)
	}
}

// Close tears down the connection and waits for stream goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.events = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

var _ channel.Transport = (*Client)(nil)
