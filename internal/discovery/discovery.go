// Package discovery advertises and finds relay servers on the local network
// over multicast DNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service under which relays are advertised.
const ServiceType = "_tablecast._tcp"

// DefaultTimeout bounds a single Browse query.
const DefaultTimeout = 2 * time.Second

// ErrNoRelay is returned by First when no relay answered.
var ErrNoRelay = errors.New("discovery: no relay found")

// Advertiser holds a running mDNS responder.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces a relay listening on port. An empty instance uses the
// host name. The txt records are published verbatim.
func Advertise(instance string, port int, txt ...string) (*Advertiser, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("discovery: invalid port %d", port)
	}
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	if len(txt) == 0 {
		txt = []string{"tablecast relay"}
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	log.Printf("[Discovery] Advertising %s on port %d as %q", ServiceType, port, instance)
	return &Advertiser{server: server}, nil
}

// Shutdown stops answering queries.
func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}

// Browse queries the network once and returns the relay addresses that
// answered before timeout, in arrival order and without duplicates.
func Browse(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan []string, 1)
	go func() {
		done <- collect(entries)
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	addrs := <-done
	if err != nil {
		return addrs, fmt.Errorf("mdns query: %w", err)
	}
	return addrs, ctx.Err()
}

// First returns the first relay address found.
func First(ctx context.Context, timeout time.Duration) (string, error) {
	addrs, err := Browse(ctx, timeout)
	if len(addrs) > 0 {
		return addrs[0], nil
	}
	if err != nil {
		return "", err
	}
	return "", ErrNoRelay
}

func collect(entries <-chan *mdns.ServiceEntry) []string {
	var addrs []string
	seen := make(map[string]bool)
	for e := range entries {
		addr, ok := entryAddr(e)
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	return addrs
}

// entryAddr prefers the IPv4 address of an answer.
func entryAddr(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.Port <= 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return "", false
	}
	return net.JoinHostPort(ip.String(), fmt.Sprint(e.Port)), true
}
