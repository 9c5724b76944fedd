package store

import (
	"fmt"
	"log"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tablecast/internal/codec"
	"github.com/banshee-data/tablecast/internal/httputil"
)

// AttachAdminRoutes mounts the snapshot debug pages and a tailsql console
// on mux under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Snapshot DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("snapshots", "Stored snapshots", func(w http.ResponseWriter, r *http.Request) {
		infos, err := s.Snapshots(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list snapshots: %v", err))
			return
		}
		httputil.WriteJSONOK(w, infos)
	})

	debug.HandleSilentFunc("snapshot", func(w http.ResponseWriter, r *http.Request) {
		topic := r.URL.Query().Get("topic")
		if topic == "" {
			httputil.BadRequest(w, "missing topic")
			return
		}
		pf, err := s.LoadSnapshot(r.Context(), topic)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		payload, err := codec.EncodePlayfield(pf)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteRawJSON(w, payload)
	})
}
