package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
	"github.com/banshee-data/tablecast/internal/transport/loopback"
)

func startRelay(t *testing.T) *Server {
	t.Helper()
	s := NewServer(loopback.NewBroker())
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(s.Stop)
	return s
}

type events struct {
	mu         sync.Mutex
	lost       int
	reconnects int
}

func (e *events) ConnectionLost(error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lost++
}

func (e *events) Reconnected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconnects++
}

func (e *events) lostCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lost
}

func connectClient(t *testing.T, s *Server, name string) (*Client, *events) {
	t.Helper()
	c := NewClient(s.Addr().String(), name)
	ev := &events{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, ev))
	t.Cleanup(func() { c.Close() })
	return c, ev
}

func TestRelayFanOut(t *testing.T) {
	s := startRelay(t)
	ctx := context.Background()

	pub, _ := connectClient(t, s, "organizer")
	subA, _ := connectClient(t, s, "display-a")
	subB, _ := connectClient(t, s, "display-b")

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(name string) func([]byte) {
		return func(p []byte) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], string(p))
		}
	}
	require.NoError(t, subA.Subscribe(ctx, "playfield", record("a")))
	require.NoError(t, subB.Subscribe(ctx, "playfield", record("b")))
	require.Eventually(t, func() bool { return s.Broker().Subscribers("playfield") == 2 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, pub.Publish(ctx, "playfield", []byte("one")))
	require.NoError(t, pub.Publish(ctx, "other", []byte("ignored")))
	require.NoError(t, pub.Publish(ctx, "playfield", []byte("two")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) == 2 && len(got["b"]) == 2
	}, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"one", "two"}, got["a"])
	assert.Equal(t, []string{"one", "two"}, got["b"])
	mu.Unlock()

	st := s.Stats()
	assert.EqualValues(t, 3, st.Published)
	assert.EqualValues(t, 2, st.Subscribers)
	assert.True(t, st.Running)
}

func TestRelayRejectsEmptyTopic(t *testing.T) {
	s := startRelay(t)
	c, _ := connectClient(t, s, "organizer")

	err := c.Publish(context.Background(), "", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRelayServerStopReportsLoss(t *testing.T) {
	s := NewServer(loopback.NewBroker())
	require.NoError(t, s.Start("127.0.0.1:0"))
	c, ev := connectClient(t, s, "display")

	s.Stop()
	require.Eventually(t, func() bool { return ev.lostCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, s.Stats().Running)
	assert.Error(t, c.Publish(context.Background(), "playfield", []byte("x")))
}

func TestClosedClient(t *testing.T) {
	s := startRelay(t)
	c, _ := connectClient(t, s, "organizer")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Publish(context.Background(), "playfield", nil), ErrClientClosed)
	assert.ErrorIs(t, c.Connect(context.Background(), &events{}), ErrClientClosed)
}

// A channel handler on each side of the relay reproduces the scene.
func TestRelayCarriesChannel(t *testing.T) {
	s := startRelay(t)
	ctx := context.Background()

	pubClient, _ := connectClient(t, s, "organizer")
	subClient, _ := connectClient(t, s, "display")

	cfg := channel.DefaultConfig()
	cfg.Width, cfg.Height = 800, 600

	receiver, err := channel.NewHandler(subClient, cfg)
	require.NoError(t, err)
	require.NoError(t, receiver.Connect(ctx))
	require.NoError(t, receiver.Subscribe(ctx))
	require.Eventually(t, func() bool { return s.Broker().Subscribers(cfg.Topic) == 1 }, 5*time.Second, 5*time.Millisecond)

	sender, err := channel.NewHandler(pubClient, cfg)
	require.NoError(t, err)
	require.NoError(t, sender.Connect(ctx))

	pf := playfield.MustNew(800, 600)
	pf.Put(1, playfield.NewCircle(geom.Pt(100, 100), 10))
	pf.Put(2, playfield.NewText(geom.Pt(50, 50), "Hallo"))
	n, err := sender.Publish(ctx, pf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Eventually(t, func() bool {
		return receiver.Snapshot().Visible(pf)
	}, 5*time.Second, 5*time.Millisecond)
}
