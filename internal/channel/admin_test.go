package channel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/testutil"
	"github.com/banshee-data/tablecast/internal/transport/loopback"
)

func TestAdminRoutes(t *testing.T) {
	b := loopback.NewBroker()
	h, _ := newConnected(t, b, channel.DefaultConfig())
	_, err := h.Publish(context.Background(), scene())
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	w := testutil.Get(mux, "/debug/channel")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats channel.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats.Sent)
	assert.Equal(t, "connected", stats.StateName)

	w = testutil.Get(mux, "/debug/playfield")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Contains(t, out, "published")
	assert.Contains(t, out, "received")
}
