package relay

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/tablecast/internal/transport/loopback"
)

// DefaultListenAddr is where the organizer serves the relay.
const DefaultListenAddr = ":50061"

const maxMsgSize = 4 * 1024 * 1024

// Server fans envelopes out to streaming subscribers through a
// loopback.Broker.
type Server struct {
	broker   *loopback.Broker
	server   *grpc.Server
	listener net.Listener

	published   atomic.Uint64
	subscribers atomic.Int32

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer returns a relay around broker. The broker may also be used
// directly by in-process clients.
func NewServer(broker *loopback.Broker) *Server {
	return &Server{broker: broker}
}

// Broker returns the broker the relay fans out through.
func (s *Server) Broker() *loopback.Broker { return s.broker }

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	if s.running.Load() {
		return fmt.Errorf("relay already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	s.server.RegisterService(&serviceDesc, s)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[Relay] gRPC server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			log.Printf("[Relay] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends every stream and waits for the server to exit.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	// Subscriber streams never finish on their own, so GracefulStop would block.
	s.server.Stop()
	s.wg.Wait()
	log.Printf("[Relay] gRPC server stopped")
}

func (s *Server) Publish(_ context.Context, in *Envelope) (*PublishReply, error) {
	if in.Topic == "" {
		return nil, status.Error(codes.InvalidArgument, "topic is required")
	}
	n, err := s.broker.Publish(in.Topic, in.Payload)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "publish: %v", err)
	}
	s.published.Add(1)
	return &PublishReply{Delivered: n}, nil
}

func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	if req.Topic == "" {
		return status.Error(codes.InvalidArgument, "topic is required")
	}
	id, ch := s.broker.Subscribe(req.Topic)
	defer s.broker.Unsubscribe(id)

	streamID := "relay-" + uuid.NewString()
	n := s.subscribers.Add(1)
	log.Printf("[Relay] Subscriber %s (%s) on %q connected (total: %d)", streamID, req.Client, req.Topic, n)
	defer func() {
		n := s.subscribers.Add(-1)
		log.Printf("[Relay] Subscriber %s disconnected (remaining: %d)", streamID, n)
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "relay shutting down")
			}
			if err := stream.SendMsg(&Envelope{Topic: req.Topic, Payload: payload}); err != nil {
				return err
			}
		}
	}
}

// Stats is a point-in-time view of relay activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Subscribers int32  `json:"subscribers"`
	Running     bool   `json:"running"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Published:   s.published.Load(),
		Subscribers: s.subscribers.Load(),
		Running:     s.running.Load(),
	}
}
