// Package loopback is an in-process publish/subscribe broker. It lets an
// organizer and one or more displays run in the same process, and gives
// tests a transport whose connection drops can be triggered on demand.
package loopback

import (
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/tablecast/internal/httputil"
)

var ErrBrokerClosed = errors.New("loopback: broker closed")

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

type subscriber struct {
	topic string
	ch    chan []byte
}

// Broker fans published payloads out to every subscriber of a topic. A
// subscriber whose queue is full misses the payload rather than blocking
// the publisher.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]subscriber
	closing     bool
	buffer      int
	published   int64
	dropped     int64
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]subscriber), buffer: DefaultBuffer}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns an id and a channel receiving payloads published on
// topic. The channel is closed by Unsubscribe or Close.
func (b *Broker) Subscribe(topic string) (string, <-chan []byte) {
	id := randomID()
	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = subscriber{topic: topic, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscribers[id]; ok {
		close(s.ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers a copy of payload to every subscriber of topic and
// returns how many received it.
func (b *Broker) Publish(topic string, payload []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return 0, ErrBrokerClosed
	}
	b.published++
	n := 0
	for _, s := range b.subscribers {
		if s.topic != topic {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
			n++
		default:
			b.dropped++
		}
	}
	return n, nil
}

// Subscribers returns the number of subscribers on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subscribers {
		if s.topic == topic {
			n++
		}
	}
	return n
}

// Close closes every subscriber channel. Later publishes fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing = true
	for id, s := range b.subscribers {
		close(s.ch)
		delete(b.subscribers, id)
	}
	return nil
}

// AttachAdminRoutes attaches a live tail and a manual publish endpoint to
// mux under /debug/.
func (b *Broker) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Loopback published", func() any {
		b.mu.Lock()
		defer b.mu.Unlock()
		return fmt.Sprintf("%d (dropped %d)", b.published, b.dropped)
	})

	debug.HandleSilentFunc("loopback-publish", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		topic := strings.TrimSpace(r.FormValue("topic"))
		payload := strings.TrimSpace(r.FormValue("payload"))
		if topic == "" || payload == "" {
			httputil.BadRequest(w, "missing topic or payload")
			return
		}
		n, err := b.Publish(topic, []byte(payload))
		if err != nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		io.WriteString(w, fmt.Sprintf("Delivered to %d subscribers of %q", n, topic))
	})

	// Server-Sent Events for every payload on ?topic=.
	debug.HandleSilentFunc("loopback-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		topic := r.URL.Query().Get("topic")
		if topic == "" {
			httputil.BadRequest(w, "missing topic")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := b.Subscribe(topic)
		defer b.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
