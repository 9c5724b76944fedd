// Command display receives the published playfield and renders it to an
// image file that the projector output shows.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/config"
	"github.com/banshee-data/tablecast/internal/discovery"
	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/render"
	"github.com/banshee-data/tablecast/internal/security"
	"github.com/banshee-data/tablecast/internal/timeutil"
	"github.com/banshee-data/tablecast/internal/transport"
	"github.com/banshee-data/tablecast/internal/version"
)

var (
	transportName = flag.String("transport", "mqtt", "Transport: mqtt or relay")
	relayAddr     = flag.String("relay-addr", "127.0.0.1:50061", "Relay address when -transport=relay")
	discover      = flag.Bool("discover", false, "Find the relay over mDNS instead of -relay-addr")
	out           = flag.String("out", "playfield.png", "PNG file rewritten on every change")
	pdfOut        = flag.String("pdf", "", "Write the final frame as PDF on exit")
	rotate        = flag.String("rotate", "", "Output orientation: 0, 90, 180, 270, flip-h or flip-v")
	margin        = flag.Int("margin", 0, "Gray border in pixels around the playfield")
	fps           = flag.Int("fps", 30, "Refresh rate")
	width         = flag.Int("width", 0, "Playfield width until a snapshot arrives (defaults to PROJECTOR_WIDTH)")
	height        = flag.Int("height", 0, "Playfield height until a snapshot arrives (defaults to PROJECTOR_HEIGHT)")
	adminListen   = flag.String("admin", "", "Serve /debug/ admin routes on this address")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("display"))
		return
	}
	if *fps <= 0 {
		log.Fatal("fps must be positive")
	}

	env, err := config.ParseEnv()
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	w, h := env.ProjectorWidth, env.ProjectorHeight
	if *width > 0 {
		w = *width
	}
	if *height > 0 {
		h = *height
	}
	for _, path := range []string{*out, *pdfOut} {
		if path == "" {
			continue
		}
		if err := security.ValidateOutputPath(path); err != nil {
			log.Fatal(err)
		}
	}
	orientation, err := render.ParseOrientation(*rotate)
	if err != nil {
		log.Fatal(err)
	}
	kind, err := transport.ParseKind(*transportName)
	if err != nil {
		log.Fatal(err)
	}
	if kind == transport.KindLoopback {
		log.Fatal("the loopback transport only works inside the organizer process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := *relayAddr
	if kind == transport.KindRelay && *discover {
		if addr, err = discovery.First(ctx, discovery.DefaultTimeout); err != nil {
			log.Fatalf("Relay discovery failed: %v", err)
		}
		log.Printf("[Display] Discovered relay at %s", addr)
	}

	tr, err := transport.Open(kind, transport.Options{Env: env, RelayAddr: addr, Name: "display"})
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	cfg := channel.DefaultConfig()
	cfg.Topic = env.MQTTTopic
	cfg.Width, cfg.Height = w, h
	handler, err := channel.NewHandler(tr, cfg)
	if err != nil {
		log.Fatalf("Failed to create channel: %v", err)
	}

	var wg sync.WaitGroup
	if *adminListen != "" {
		mux := http.NewServeMux()
		handler.AttachAdminRoutes(mux)
		server := &http.Server{Addr: *adminListen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("[Display] Admin server failed: %v", err)
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("[Display] Admin server shutdown error: %v", err)
			}
		}()
	}

	if err := transport.ConnectRetry(ctx, handler); err != nil {
		log.Printf("[Display] Not connected: %v", err)
	} else if err := handler.Subscribe(ctx); err != nil {
		log.Printf("[Display] %v", err)
	} else {
		fw := &frameWriter{
			fsys: fsutil.OSFileSystem{},
			out:  *out,
			pdf:  *pdfOut,
			opts: render.Options{Margin: *margin, Orientation: orientation},
		}
		loop(ctx, timeutil.RealClock{}, handler, fw, time.Second/time.Duration(*fps))
		if err := fw.Export(); err != nil {
			log.Printf("[Display] PDF export failed: %v", err)
		}
	}

	if err := handler.Shutdown(context.Background()); err != nil {
		log.Printf("[Display] Shutdown: %v", err)
	}
	stop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loop redraws on every tick of clock until ctx is done.
func loop(ctx context.Context, clock timeutil.Clock, h *channel.Handler, fw *frameWriter, period time.Duration) {
	ticker := clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := fw.Draw(h.Snapshot()); err != nil {
				log.Printf("[Display] Render failed: %v", err)
			}
		}
	}
}
