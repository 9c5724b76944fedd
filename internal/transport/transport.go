// Package transport selects and dials the channel.Transport a binary runs on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/config"
	"github.com/banshee-data/tablecast/internal/relay"
	"github.com/banshee-data/tablecast/internal/transport/loopback"
	"github.com/banshee-data/tablecast/internal/transport/mqtt"
)

// Kind names a transport on the command line.
type Kind string

const (
	KindMQTT     Kind = "mqtt"
	KindRelay    Kind = "relay"
	KindLoopback Kind = "loopback"
)

// ParseKind validates a -transport flag value.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMQTT, KindRelay, KindLoopback:
		return k, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want mqtt, relay or loopback)", s)
	}
}

// Options carries what each kind needs. Only the fields of the selected
// kind are read.
type Options struct {
	// Env supplies the broker settings for KindMQTT.
	Env config.Env
	// RelayAddr is the relay server address for KindRelay.
	RelayAddr string
	// Broker is the in-process broker for KindLoopback.
	Broker *loopback.Broker
	// Name identifies this process to the relay and in MQTT client ids.
	Name string
}

// Open builds an unconnected transport of the given kind.
func Open(kind Kind, opts Options) (channel.Transport, error) {
	switch kind {
	case KindMQTT:
		cfg := mqtt.Config{
			Broker:   opts.Env.MQTTBroker,
			Port:     opts.Env.MQTTPort,
			Username: opts.Env.MQTTUser,
			Password: opts.Env.MQTTPassword,
			TLS:      opts.Env.MQTTTLS,
		}
		if cfg.Broker == "" {
			return nil, errors.New("mqtt transport needs a broker host")
		}
		return mqtt.New(cfg), nil
	case KindRelay:
		if opts.RelayAddr == "" {
			return nil, errors.New("relay transport needs an address")
		}
		return relay.NewClient(opts.RelayAddr, opts.Name), nil
	case KindLoopback:
		if opts.Broker == nil {
			return nil, errors.New("loopback transport needs an in-process broker")
		}
		return opts.Broker.NewClient(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// Backoff bounds for ConnectRetry.
const (
	MinBackoff = 250 * time.Millisecond
	MaxBackoff = 10 * time.Second
)

// ConnectRetry calls h.Connect until it succeeds, doubling the wait between
// attempts up to MaxBackoff. It gives up when ctx is done or the handler
// is closed.
func ConnectRetry(ctx context.Context, h *channel.Handler) error {
	wait := MinBackoff
	for attempt := 1; ; attempt++ {
		err := h.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, channel.ErrClosed) {
			return err
		}
		log.Printf("[Transport] Connect attempt %d failed: %v (retrying in %s)", attempt, err, wait)
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect abandoned after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
		if wait > MaxBackoff {
			wait = MaxBackoff
		}
	}
}
