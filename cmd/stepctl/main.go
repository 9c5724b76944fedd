// Command stepctl forwards step commands typed on stdin (or piped from a
// speech recognizer) to the organizer.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/config"
	"github.com/banshee-data/tablecast/internal/discovery"
	"github.com/banshee-data/tablecast/internal/guide"
	"github.com/banshee-data/tablecast/internal/transport"
	"github.com/banshee-data/tablecast/internal/version"
)

var (
	transportName = flag.String("transport", "mqtt", "Transport: mqtt or relay")
	relayAddr     = flag.String("relay-addr", "127.0.0.1:50061", "Relay address when -transport=relay")
	discover      = flag.Bool("discover", false, "Find the relay over mDNS instead of -relay-addr")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// connLogger reports connection changes; stepctl has no state to resync.
type connLogger struct{}

func (connLogger) ConnectionLost(err error) { log.Printf("[Stepctl] Connection lost: %v", err) }
func (connLogger) Reconnected()             { log.Printf("[Stepctl] Reconnected") }

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("stepctl"))
		return
	}

	env, err := config.ParseEnv()
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
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
	}
	tr, err := transport.Open(kind, transport.Options{Env: env, RelayAddr: addr, Name: "stepctl"})
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	defer tr.Close()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = tr.Connect(connectCtx, connLogger{})
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	n, err := forward(ctx, os.Stdin, tr, env.MQTTTopic+"/steps")
	if err != nil {
		log.Printf("[Stepctl] %v", err)
	}
	log.Printf("[Stepctl] Sent %d commands", n)
}

// forward publishes each recognized line of r to topic and returns the
// number sent. Unrecognized lines are reported and skipped.
func forward(ctx context.Context, r io.Reader, tr channel.Transport, topic string) (int, error) {
	sent := 0
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		if err := ctx.Err(); err != nil {
			return sent, nil
		}
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		cmd, err := guide.ParseCommand(line)
		if err != nil {
			log.Printf("[Stepctl] %v", err)
			continue
		}
		if err := tr.Publish(ctx, topic, []byte(cmd.String())); err != nil {
			return sent, fmt.Errorf("publish %s: %w", cmd, err)
		}
		sent++
	}
	return sent, scan.Err()
}
