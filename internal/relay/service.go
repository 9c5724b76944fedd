// Package relay runs a small publish/subscribe broker over gRPC so
// displays can follow an organizer without an MQTT broker. Messages are
// JSON encoded; there is no generated protobuf code.
package relay

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
)

const (
	serviceName     = "tablecast.relay.v1.Relay"
	publishMethod   = "/" + serviceName + "/Publish"
	subscribeMethod = "/" + serviceName + "/Subscribe"
)

// Envelope is one payload on a topic.
type Envelope struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// PublishReply reports how many subscribers were handed the envelope.
type PublishReply struct {
	Delivered int `json:"delivered"`
}

// SubscribeRequest opens a stream of envelopes for Topic.
type SubscribeRequest struct {
	Topic string `json:"topic"`
	// Client is a free-form name shown in the relay logs.
	Client string `json:"client,omitempty"`
}

// jsonCodec replaces the protobuf codec on both ends of the connection.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type relayServer interface {
	Publish(context.Context, *Envelope) (*PublishReply, error)
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(relayServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(relayServer).Publish(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(relayServer).Subscribe(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*relayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "relay.json",
}
