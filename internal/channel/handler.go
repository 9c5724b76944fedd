// Package channel synchronizes a Playfield between a producer and remote
// renderers over a best-effort publish/subscribe Transport.
//
// The producer side diffs each published playfield against the last
// snapshot the transport accepted and sends one patch per changed id. The
// renderer side decodes payloads on the transport goroutine and hands them
// to the render loop through a buffered channel; Snapshot applies them and
// returns the reconstructed playfield.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tablecast/internal/codec"
	"github.com/banshee-data/tablecast/internal/monitoring"
	"github.com/banshee-data/tablecast/internal/playfield"
	"github.com/banshee-data/tablecast/internal/timeutil"
)

var (
	ErrChannelConnect = errors.New("channel: connect failed")
	ErrNotConnected   = errors.New("channel: not connected")
	ErrClosed         = errors.New("channel: closed")
)

// Config holds configuration for a Handler.
type Config struct {
	// Topic is the topic patches are published to and received from.
	Topic string

	// Width and Height size the reconstructed playfield on the receiving
	// side until a full snapshot says otherwise.
	Width  int
	Height int

	// InboxSize bounds the number of decoded messages waiting for the
	// render loop. Messages arriving while it is full are dropped.
	InboxSize int

	// ResyncInterval, when positive, makes Publish resend every id once
	// after the interval elapses so late subscribers converge.
	ResyncInterval time.Duration
}

// DefaultResyncInterval bounds how long a subscriber that joins late waits
// for forms that never change.
const DefaultResyncInterval = 5 * time.Second

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Topic:          "playfield",
		Width:          1920,
		Height:         1080,
		InboxSize:      256,
		ResyncInterval: DefaultResyncInterval,
	}
}

// Stats is a point-in-time view of a Handler's counters.
type Stats struct {
	State            State `json:"-"`
	StateName        string
	Sent             int64
	Suppressed       int64
	PublishFailures  int64
	EncodeFailures   int64
	Received         int64
	DecodeFailures   int64
	Dropped          int64
	Resyncs          int64
	ConnectionLosses int64
	Reconnects       int64
}

// Handler is one process's end of the synchronization channel.
type Handler struct {
	cfg       Config
	transport Transport
	clock     timeutil.Clock
	state     *stateMachine
	logf      func(string, ...interface{})

	// Publisher side. Only Publish and Shutdown write these.
	pubMu      sync.Mutex
	sent       map[int]playfield.Form
	sentW      int
	sentH      int
	lastResync time.Time
	resync     atomic.Bool
	connected  atomic.Bool

	// Receiver side.
	inbox   chan codec.Message
	recvMu  sync.Mutex
	current *playfield.Playfield

	sentCount        monitoring.Counter
	suppressed       monitoring.Counter
	publishFailures  monitoring.Counter
	encodeFailures   monitoring.Counter
	received         monitoring.Counter
	decodeFailures   monitoring.Counter
	dropped          monitoring.Counter
	resyncs          monitoring.Counter
	connectionLosses monitoring.Counter
	reconnects       monitoring.Counter
}

// NewHandler creates a Handler on top of t.
func NewHandler(t Transport, cfg Config) (*Handler, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("channel: empty topic")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	current, err := playfield.New(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("channel: receiver size: %w", err)
	}
	return &Handler{
		cfg:       cfg,
		transport: t,
		clock:     timeutil.RealClock{},
		state:     newStateMachine(),
		logf:      monitoring.Component("Channel"),
		sent:      make(map[int]playfield.Form),
		inbox:     make(chan codec.Message, cfg.InboxSize),
		current:   current,
	}, nil
}

// SetClock replaces the clock used for the resync interval.
func (h *Handler) SetClock(c timeutil.Clock) {
	h.clock = c
}

// Topic returns the configured topic.
func (h *Handler) Topic() string { return h.cfg.Topic }

// State returns the current connection state.
func (h *Handler) State() State { return h.state.get() }

// Await blocks until the handler reaches want. It fails with ErrClosed if
// the handler closes first.
func (h *Handler) Await(ctx context.Context, want State) error {
	return h.state.await(ctx, want)
}

// Connect establishes the transport session. It blocks until the handshake
// completes or ctx is done. Retrying a failed Connect is up to the caller.
func (h *Handler) Connect(ctx context.Context) error {
	switch h.state.get() {
	case StateClosed:
		return ErrClosed
	case StateConnected:
		return nil
	}
	h.state.set(StateConnecting)
	if err := h.transport.Connect(ctx, h); err != nil {
		h.state.set(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrChannelConnect, err)
	}
	if h.connected.Swap(true) {
		h.resync.Store(true)
	}
	if prev := h.state.set(StateConnected); prev == StateClosed {
		return ErrClosed
	}
	log.Printf("[Channel] Connected on topic %q", h.cfg.Topic)
	return nil
}

// ConnectionLost implements ConnectionHandler.
func (h *Handler) ConnectionLost(err error) {
	h.connectionLosses.Inc()
	if h.state.set(StateDisconnected) != StateClosed {
		log.Printf("[Channel] Connection lost: %v", err)
	}
}

// Reconnected implements ConnectionHandler. The next Publish resends every
// id once.
func (h *Handler) Reconnected() {
	h.reconnects.Inc()
	h.resync.Store(true)
	if h.state.set(StateConnected) != StateClosed {
		log.Printf("[Channel] Reconnected, full resend scheduled")
	}
}

// Publish sends one patch per id of pf whose form differs from the last
// snapshot the transport accepted. Ids pf never set are not reported; an
// id set to nil is reported as a deletion once. It returns the number of
// patches sent.
func (h *Handler) Publish(ctx context.Context, pf *playfield.Playfield) (int, error) {
	switch s := h.state.get(); s {
	case StateClosed:
		return 0, ErrClosed
	case StateConnected:
	default:
		return 0, fmt.Errorf("%w: %s", ErrNotConnected, s)
	}
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.publishLocked(ctx, pf)
}

func (h *Handler) publishLocked(ctx context.Context, pf *playfield.Playfield) (int, error) {
	now := h.clock.Now()
	full := h.resync.Swap(false)
	if !full && h.cfg.ResyncInterval > 0 && !h.lastResync.IsZero() && now.Sub(h.lastResync) >= h.cfg.ResyncInterval {
		full = true
	}
	if h.lastResync.IsZero() || full {
		h.lastResync = now
	}
	if full {
		h.resyncs.Inc()
		h.logf("full resend of %d ids", len(pf.IDs()))
	}

	h.sentW, h.sentH = pf.Width(), pf.Height()
	forms := pf.Forms()
	var encodeErrs []error
	n := 0
	for _, id := range pf.IDs() {
		f := forms[id]
		if prev, ok := h.sent[id]; ok && !full && playfield.FormsEqual(prev, f) {
			h.suppressed.Inc()
			continue
		}
		payload, err := codec.EncodePatch(id, f)
		if err != nil {
			h.encodeFailures.Inc()
			h.logf("skipping id %d: %v", id, err)
			encodeErrs = append(encodeErrs, err)
			continue
		}
		if err := h.transport.Publish(ctx, h.cfg.Topic, payload); err != nil {
			h.publishFailures.Inc()
			if full {
				h.resync.Store(true)
			}
			return n, errors.Join(fmt.Errorf("channel: publish id %d: %w", id, err), errors.Join(encodeErrs...))
		}
		h.sent[id] = f
		h.sentCount.Inc()
		n++
	}
	return n, errors.Join(encodeErrs...)
}

// Seed installs pf as the last published snapshot, typically restored
// from persistent storage after a restart.
func (h *Handler) Seed(pf *playfield.Playfield) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	h.sent = pf.Forms()
	h.sentW, h.sentH = pf.Width(), pf.Height()
}

// LastPublished returns a copy of the last snapshot the transport
// accepted, or nil before the first publish.
func (h *Handler) LastPublished() *playfield.Playfield {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.lastPublishedLocked()
}

func (h *Handler) lastPublishedLocked() *playfield.Playfield {
	if h.sentW <= 0 || h.sentH <= 0 {
		return nil
	}
	p := playfield.MustNew(h.sentW, h.sentH)
	for id, f := range h.sent {
		p.Put(id, f)
	}
	return p
}

// Shutdown publishes a deletion for every id still showing a form, closes
// the transport and moves to StateClosed. It is safe to call twice.
func (h *Handler) Shutdown(ctx context.Context) error {
	if h.state.get() == StateClosed {
		return nil
	}
	var errs []error
	if h.state.get() == StateConnected {
		h.pubMu.Lock()
		if last := h.lastPublishedLocked(); last != nil {
			last.Clear()
			n, err := h.publishLocked(ctx, last)
			if err != nil {
				errs = append(errs, err)
			}
			log.Printf("[Channel] Cleared %d ids before disconnect", n)
		}
		h.pubMu.Unlock()
	}
	h.state.set(StateClosed)
	if err := h.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("channel: close transport: %w", err))
	}
	return errors.Join(errs...)
}

// Subscribe starts receiving on the configured topic.
func (h *Handler) Subscribe(ctx context.Context) error {
	if h.state.get() == StateClosed {
		return ErrClosed
	}
	if err := h.transport.Subscribe(ctx, h.cfg.Topic, h.deliver); err != nil {
		return fmt.Errorf("channel: subscribe %q: %w", h.cfg.Topic, err)
	}
	return nil
}

// deliver runs on the transport goroutine.
func (h *Handler) deliver(payload []byte) {
	h.received.Inc()
	msg, err := codec.DecodeMessage(payload)
	if err != nil {
		h.decodeFailures.Inc()
		h.logf("dropping undecodable message (%d bytes): %v", len(payload), err)
		return
	}
	select {
	case h.inbox <- msg:
	default:
		dropped := h.dropped.Add(1)
		h.logf("inbox full, dropped %s (total dropped: %d)", msg.Kind, dropped)
	}
}

// Pending returns the number of decoded messages not yet applied.
func (h *Handler) Pending() int { return len(h.inbox) }

// Snapshot applies every pending message and returns a copy of the
// reconstructed playfield. It never blocks on the network.
func (h *Handler) Snapshot() *playfield.Playfield {
	h.recvMu.Lock()
	defer h.recvMu.Unlock()
	for {
		select {
		case msg := <-h.inbox:
			h.apply(msg)
		default:
			return h.current.Clone()
		}
	}
}

func (h *Handler) apply(msg codec.Message) {
	switch msg.Kind {
	case codec.KindSnapshot:
		h.current = msg.Playfield
	case codec.KindPatch:
		h.current.Put(msg.ID, msg.Form)
	}
}

// Stats returns the current counters.
func (h *Handler) Stats() Stats {
	s := h.state.get()
	return Stats{
		State:            s,
		StateName:        s.String(),
		Sent:             h.sentCount.Load(),
		Suppressed:       h.suppressed.Load(),
		PublishFailures:  h.publishFailures.Load(),
		EncodeFailures:   h.encodeFailures.Load(),
		Received:         h.received.Load(),
		DecodeFailures:   h.decodeFailures.Load(),
		Dropped:          h.dropped.Load(),
		Resyncs:          h.resyncs.Load(),
		ConnectionLosses: h.connectionLosses.Load(),
		Reconnects:       h.reconnects.Load(),
	}
}
