package channel

import (
	"encoding/json"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/tablecast/internal/codec"
	"github.com/banshee-data/tablecast/internal/httputil"
)

// AttachAdminRoutes attaches debugging endpoints to mux under /debug/.
// They are meant to be reachable only over localhost or the tailnet.
func (h *Handler) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Channel state", func() any { return h.State().String() })

	debug.HandleFunc("channel", "Channel counters and connection state", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, h.Stats())
	})

	debug.HandleFunc("playfield", "Last published and last received playfield", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]json.RawMessage{}
		if last := h.LastPublished(); last != nil {
			b, err := codec.EncodePlayfield(last)
			if err != nil {
				httputil.InternalServerError(w, err.Error())
				return
			}
			out["published"] = b
		}
		// Read without draining; the inbox belongs to the render loop.
		h.recvMu.Lock()
		b, err := codec.EncodePlayfield(h.current)
		h.recvMu.Unlock()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		out["received"] = b
		httputil.WriteJSONOK(w, out)
	})
}
