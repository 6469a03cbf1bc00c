package presence

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	relaypresence "github.com/louisbranch/watchparty/internal/services/relay/presence"
)

// Stats summarizes the relay's live state.
type Stats struct {
	Connections int
	Rooms       int
}

// Client calls the presence service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithAcceptLanguage asks the server to localize error messages.
func WithAcceptLanguage(ctx context.Context, acceptLanguage string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, acceptLanguageKey, acceptLanguage)
}

// ListRoom returns the members of roomID in join order.
func (c *Client) ListRoom(ctx context.Context, roomID string) ([]relaypresence.Participant, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, listRoomMethod, wrapperspb.String(roomID), out); err != nil {
		return nil, fmt.Errorf("list room: %w", err)
	}
	return lo.Map(out.GetValues(), func(v *structpb.Value, _ int) relaypresence.Participant {
		return participantFromStruct(v.GetStructValue())
	}), nil
}

// Lookup returns the registration of connectionID.
func (c *Client) Lookup(ctx context.Context, connectionID string) (relaypresence.Participant, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, lookupMethod, wrapperspb.String(connectionID), out); err != nil {
		return relaypresence.Participant{}, fmt.Errorf("lookup connection: %w", err)
	}
	return participantFromStruct(out), nil
}

// Stats returns live connection and room counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statsMethod, &emptypb.Empty{}, out); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	fields := out.GetFields()
	return Stats{
		Connections: int(fields["connections"].GetNumberValue()),
		Rooms:       int(fields["rooms"].GetNumberValue()),
	}, nil
}
