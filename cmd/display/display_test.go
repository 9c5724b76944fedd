package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
	"github.com/banshee-data/tablecast/internal/timeutil"
	"github.com/banshee-data/tablecast/internal/transport/loopback"
)

func TestFrameWriterSkipsUnchanged(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fw := &frameWriter{fsys: fsys, out: "frame.png"}

	pf := playfield.MustNew(40, 30)
	pf.Put(1, playfield.NewCircle(geom.Pt(20, 15), 5))

	wrote, err := fw.Draw(pf)
	require.NoError(t, err)
	assert.True(t, wrote)
	data, err := fsys.ReadFile("frame.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	wrote, err = fw.Draw(pf.Clone())
	require.NoError(t, err)
	assert.False(t, wrote)

	pf.Put(1, nil)
	wrote, err = fw.Draw(pf)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 2, fw.written)
}

func TestFrameWriterExport(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fw := &frameWriter{fsys: fsys, pdf: "final.pdf"}
	require.NoError(t, fw.Export(), "nothing drawn yet is not an error")
	assert.False(t, fsys.Exists("final.pdf"))

	pf := playfield.MustNew(40, 30)
	pf.Put(1, playfield.NewText(geom.Pt(5, 5), "hi"))
	_, err := fw.Draw(pf)
	require.NoError(t, err)
	require.NoError(t, fw.Export())

	data, err := fsys.ReadFile("final.pdf")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestLoopRendersReceivedScene(t *testing.T) {
	b := loopback.NewBroker()
	defer b.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := channel.DefaultConfig()
	cfg.Width, cfg.Height = 40, 30
	pub, err := channel.NewHandler(b.NewClient(), cfg)
	require.NoError(t, err)
	require.NoError(t, pub.Connect(ctx))
	sub, err := channel.NewHandler(b.NewClient(), cfg)
	require.NoError(t, err)
	require.NoError(t, sub.Connect(ctx))
	require.NoError(t, sub.Subscribe(ctx))

	pf := playfield.MustNew(40, 30)
	pf.Put(3, playfield.NewCircle(geom.Pt(10, 10), 4))
	_, err = pub.Publish(ctx, pf)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sub.Pending() >= 1 }, 2*time.Second, 5*time.Millisecond)

	fsys := fsutil.NewMemoryFileSystem()
	fw := &frameWriter{fsys: fsys, out: "frame.png"}
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	loopCtx, stopLoop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop(loopCtx, clock, sub, fw, time.Second/30)
	}()

	// Nothing is drawn until the clock ticks.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fsys.Exists("frame.png"))

	require.Eventually(t, func() bool {
		clock.Advance(time.Second / 30)
		return fsys.Exists("frame.png")
	}, 2*time.Second, 10*time.Millisecond)
	stopLoop()
	<-done
	require.NotNil(t, fw.last)
	_, ok := fw.last.Get(3)
	assert.True(t, ok)
}
