// Command organizer reads detection frames, builds the table scene and
// publishes it, projected into display coordinates, to every renderer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tablecast/internal/calibration"
	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/config"
	"github.com/banshee-data/tablecast/internal/detect"
	"github.com/banshee-data/tablecast/internal/discovery"
	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/guide"
	"github.com/banshee-data/tablecast/internal/playfield"
	"github.com/banshee-data/tablecast/internal/relay"
	"github.com/banshee-data/tablecast/internal/security"
	"github.com/banshee-data/tablecast/internal/store"
	"github.com/banshee-data/tablecast/internal/transport"
	"github.com/banshee-data/tablecast/internal/transport/loopback"
	"github.com/banshee-data/tablecast/internal/version"
)

var (
	calibrate     = flag.String("calibrate", "", "Calibration mode: projector or camera (empty runs the organizer)")
	calFile       = flag.String("cal-file", "", "Calibration file to write (defaults to the scene's file for the mode)")
	cameraWidth   = flag.Int("width", 1280, "Camera frame width in pixels")
	cameraHeight  = flag.Int("height", 720, "Camera frame height in pixels")
	projWidth     = flag.Int("projector-width", 0, "Projector width in pixels (defaults to PROJECTOR_WIDTH)")
	projHeight    = flag.Int("projector-height", 0, "Projector height in pixels (defaults to PROJECTOR_HEIGHT)")
	tableWidth    = flag.Int("table-width", 0, "Table plane width (overrides the scene file)")
	tableHeight   = flag.Int("table-height", 0, "Table plane height (overrides the scene file)")
	detections    = flag.String("detections", "-", "NDJSON detection frames: a file, - for stdin, or empty to subscribe to <topic>/detections")
	transportName = flag.String("transport", "mqtt", "Transport: mqtt, relay or loopback")
	relayListen   = flag.String("relay-listen", "", "Serve a relay on this address (e.g. :50061) and advertise it over mDNS")
	relayAddr     = flag.String("relay-addr", "127.0.0.1:50061", "Relay address when -transport=relay")
	adminListen   = flag.String("admin", "", "Serve /debug/ admin routes on this address")
	dbPath        = flag.String("db", "", "SQLite file holding the last published snapshot")
	scenePath     = flag.String("scene", "", "Scene JSON file")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("organizer"))
		return
	}

	env, err := config.ParseEnv()
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	scene := &config.Scene{}
	if *scenePath != "" {
		if scene, err = config.LoadScene(*scenePath); err != nil {
			log.Fatalf("Failed to load scene: %v", err)
		}
	}
	if *tableWidth > 0 {
		scene.TableWidth = tableWidth
	}
	if *tableHeight > 0 {
		scene.TableHeight = tableHeight
	}
	pw, ph := env.ProjectorWidth, env.ProjectorHeight
	if *projWidth > 0 {
		pw = *projWidth
	}
	if *projHeight > 0 {
		ph = *projHeight
	}

	if *calFile != "" {
		if err := security.ValidateOutputPath(*calFile); err != nil {
			log.Fatal(err)
		}
	}

	kind, err := transport.ParseKind(*transportName)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fsys := fsutil.OSFileSystem{}
	topic := env.MQTTTopic
	var wg sync.WaitGroup

	// An in-process broker backs the relay server and the loopback transport.
	var broker *loopback.Broker
	if *relayListen != "" || kind == transport.KindLoopback {
		broker = loopback.NewBroker()
		defer broker.Close()
	}
	if *relayListen != "" {
		srv := relay.NewServer(broker)
		if err := srv.Start(*relayListen); err != nil {
			log.Fatalf("Failed to start relay: %v", err)
		}
		defer srv.Stop()
		if tcp, ok := srv.Addr().(*net.TCPAddr); ok {
			adv, err := discovery.Advertise("", tcp.Port, "topic="+topic)
			if err != nil {
				log.Printf("[Organizer] mDNS advertise failed, displays need -relay-addr: %v", err)
			} else {
				defer adv.Shutdown()
			}
		}
	}

	tr, err := transport.Open(kind, transport.Options{
		Env:       env,
		RelayAddr: *relayAddr,
		Broker:    broker,
		Name:      "organizer",
	})
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	cfg := channel.DefaultConfig()
	cfg.Topic = topic
	cfg.Width, cfg.Height = pw, ph
	cfg.ResyncInterval = scene.GetResyncInterval()
	h, err := channel.NewHandler(tr, cfg)
	if err != nil {
		log.Fatalf("Failed to create channel: %v", err)
	}

	var st *store.Store
	var rec *store.Recorder
	proj := playfield.MustNew(pw, ph)
	if *dbPath != "" {
		if st, err = store.Open(*dbPath); err != nil {
			log.Fatalf("Failed to open snapshot store: %v", err)
		}
		defer st.Close()
		rec = st.NewRecorder(topic, "organizer")
		seed, err := st.LoadSnapshot(ctx, topic)
		switch {
		case err == nil:
			h.Seed(seed)
			for _, id := range seed.IDs() {
				proj.Put(id, nil)
			}
			log.Printf("[Organizer] Restored last snapshot with %d forms", seed.Len())
		case !errors.Is(err, store.ErrNoSnapshot):
			log.Printf("[Organizer] Could not restore snapshot: %v", err)
		}
	}

	if *adminListen != "" {
		mux := http.NewServeMux()
		h.AttachAdminRoutes(mux)
		if st != nil {
			st.AttachAdminRoutes(mux)
		}
		if broker != nil {
			broker.AttachAdminRoutes(mux)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, *adminListen, mux)
		}()
	}

	if err := transport.ConnectRetry(ctx, h); err != nil {
		log.Printf("[Organizer] Not connected: %v", err)
		shutdown(h, rec)
		wg.Wait()
		return
	}

	switch *calibrate {
	case "projector":
		path := calPath(scene.GetProjectorCalibration())
		if err := calibrateProjector(ctx, h, fsys, path, pw, ph, os.Stdin); err != nil {
			log.Printf("[Organizer] Projector calibration failed: %v", err)
		}
	case "camera":
		frames, closeFrames, err := openFrames(ctx, tr, topic)
		if err != nil {
			log.Fatalf("Failed to open detections: %v", err)
		}
		defer closeFrames()
		path := calPath(scene.GetCameraCalibration())
		if err := calibrateCamera(ctx, frames, fsys, path); err != nil {
			log.Printf("[Organizer] Camera calibration failed: %v", err)
		} else if pts, err := calibration.LoadPoints(fsys, path); err == nil {
			if n := outside(pts, *cameraWidth, *cameraHeight); n > 0 {
				log.Printf("[Organizer] Warning: %d calibration points lie outside the %dx%d camera frame", n, *cameraWidth, *cameraHeight)
			}
		}
	case "":
		if err := run(ctx, h, tr, rec, scene, fsys, proj, topic); err != nil {
			log.Printf("[Organizer] %v", err)
		}
	default:
		log.Printf("[Organizer] Unknown calibration mode %q", *calibrate)
	}

	shutdown(h, rec)
	stop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func calPath(def string) string {
	if *calFile != "" {
		return *calFile
	}
	return def
}

// run is the organizer loop: one rebuild and publish per detection frame
// or step command.
func run(ctx context.Context, h *channel.Handler, tr channel.Transport, rec *store.Recorder,
	scene *config.Scene, fsys fsutil.FileSystem, proj *playfield.Playfield, topic string) error {
	camToTable, err := calibration.LoadTransformer(fsys, scene.GetCameraCalibration(), scene.GetTableCalibration())
	if err != nil {
		return fmt.Errorf("camera calibration: %w", err)
	}
	tableToProj, err := calibration.LoadTransformer(fsys, scene.GetTableCalibration(), scene.GetProjectorCalibration())
	if err != nil {
		return fmt.Errorf("projector calibration: %w", err)
	}
	q, rmse := calibration.Assess(camToTable)
	log.Printf("[Organizer] Calibration camera->table: %s (rmse %.3f)", q, rmse)
	q, rmse = calibration.Assess(tableToProj)
	log.Printf("[Organizer] Calibration table->projector: %s (rmse %.3f)", q, rmse)

	p, err := NewPipeline(scene, camToTable, tableToProj, proj)
	if err != nil {
		return err
	}

	commands := make(chan guide.Command, 8)
	if err := tr.Subscribe(ctx, topic+"/steps", func(payload []byte) {
		cmd, err := guide.ParseCommand(string(payload))
		if err != nil {
			log.Printf("[Organizer] Ignoring step command: %v", err)
			return
		}
		select {
		case commands <- cmd:
		default:
			log.Printf("[Organizer] Step command %s dropped, loop busy", cmd)
		}
	}); err != nil {
		log.Printf("[Organizer] Step commands unavailable: %v", err)
	}

	frames, closeFrames, err := openFrames(ctx, tr, topic)
	if err != nil {
		return err
	}
	defer closeFrames()

	publish := func(pf *playfield.Playfield, err error) {
		if err != nil {
			log.Printf("[Organizer] Some forms could not be projected: %v", err)
		}
		if _, err := h.Publish(ctx, pf); err != nil {
			log.Printf("[Organizer] Publish failed: %v", err)
			return
		}
		if rec != nil {
			if err := rec.Record(ctx, h.LastPublished()); err != nil {
				log.Printf("[Organizer] Snapshot not recorded: %v", err)
			}
		}
	}

	publish(p.Redraw(time.Now()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-commands:
			changed, err := p.Step(cmd)
			if err != nil {
				log.Printf("[Organizer] %v", err)
				continue
			}
			if changed {
				publish(p.Redraw(time.Now()))
			}
		case f, ok := <-frames:
			if !ok {
				log.Printf("[Organizer] Detections ended, holding the last scene")
				frames = nil
				continue
			}
			publish(p.Frame(f, time.Now()))
		}
	}
}

// openFrames returns the detection frame stream selected by -detections.
func openFrames(ctx context.Context, tr channel.Transport, topic string) (<-chan detect.Frame, func(), error) {
	frames := make(chan detect.Frame, 4)
	if *detections == "" {
		err := tr.Subscribe(ctx, topic+"/detections", func(payload []byte) {
			f, err := detect.Decode(payload)
			if err != nil {
				log.Printf("[Organizer] Bad detection frame: %v", err)
				return
			}
			select {
			case frames <- f:
			default:
				// The loop only needs the newest frame.
			}
		})
		return frames, func() {}, err
	}

	var r io.ReadCloser = os.Stdin
	if *detections != "-" {
		f, err := os.Open(*detections)
		if err != nil {
			return nil, nil, err
		}
		r = f
	}
	go func() {
		defer close(frames)
		fr := detect.NewReader(r)
		for {
			f, err := fr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				log.Printf("[Organizer] Skipping detection frame: %v", err)
				continue
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, func() { r.Close() }, nil
}

func outside(pts []geom.Point, w, h int) int {
	n := 0
	for _, p := range pts {
		if p.X < 0 || p.Y < 0 || p.X > float64(w) || p.Y > float64(h) {
			n++
		}
	}
	return n
}

// shutdown clears the displays and records the cleared snapshot.
func shutdown(h *channel.Handler, rec *store.Recorder) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		log.Printf("[Organizer] Shutdown: %v", err)
	}
	if rec != nil {
		if last := h.LastPublished(); last != nil {
			if err := rec.Record(ctx, last); err != nil {
				log.Printf("[Organizer] Final snapshot not recorded: %v", err)
			}
		}
	}
}

func serveAdmin(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Organizer] Admin server failed: %v", err)
		}
	}()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Organizer] Admin server shutdown error: %v", err)
	}
}
