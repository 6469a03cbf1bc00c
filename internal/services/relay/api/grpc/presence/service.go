// Package presence exposes a read-only gRPC view of the presence registry.
//
// Messages are protobuf well-known types, so the service descriptor is
// declared here instead of generated.
package presence

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/louisbranch/watchparty/internal/platform/errors"
	relaypresence "github.com/louisbranch/watchparty/internal/services/relay/presence"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "watchparty.relay.v1.PresenceService"

const (
	listRoomMethod = "/" + ServiceName + "/ListRoom"
	lookupMethod   = "/" + ServiceName + "/Lookup"
	statsMethod    = "/" + ServiceName + "/Stats"

	acceptLanguageKey = "accept-language"
)

// Reader is the registry surface the service reads from.
type Reader interface {
	ListRoom(roomID string, excluding ...string) []relaypresence.Participant
	Lookup(connectionID string) (relaypresence.Participant, bool)
	Rooms() map[string]int
	Len() int
}

// PresenceServer is the server API for the presence service.
type PresenceServer interface {
	ListRoom(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	Lookup(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Service implements PresenceServer over a Reader.
type Service struct {
	reader Reader
}

// NewService creates the presence service.
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// Register attaches the presence service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, srv PresenceServer) {
	registrar.RegisterService(&serviceDesc, srv)
}

// ListRoom returns the members of a room in join order.
func (s *Service) ListRoom(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	if s == nil || s.reader == nil {
		return nil, localize(ctx, apperrors.New(apperrors.CodeRelayUnavailable, "presence reader is not configured"))
	}
	roomID := strings.TrimSpace(in.GetValue())
	if roomID == "" {
		return nil, localize(ctx, apperrors.New(apperrors.CodeRoomIDRequired, "room id is required"))
	}

	members := s.reader.ListRoom(roomID)
	return &structpb.ListValue{
		Values: lo.Map(members, func(p relaypresence.Participant, _ int) *structpb.Value {
			return structpb.NewStructValue(participantStruct(p))
		}),
	}, nil
}

// Lookup returns the registration of one connection.
func (s *Service) Lookup(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s == nil || s.reader == nil {
		return nil, localize(ctx, apperrors.New(apperrors.CodeRelayUnavailable, "presence reader is not configured"))
	}
	connectionID := strings.TrimSpace(in.GetValue())
	if connectionID == "" {
		return nil, localize(ctx, apperrors.New(apperrors.CodeConnectionIDRequired, "connection id is required"))
	}

	p, ok := s.reader.Lookup(connectionID)
	if !ok {
		return nil, localize(ctx, apperrors.WithMetadata(
			apperrors.CodeConnectionNotFound,
			"connection is not registered",
			map[string]string{"ConnectionID": connectionID},
		))
	}
	return participantStruct(p), nil
}

// Stats reports live connection and room counts.
func (s *Service) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s == nil || s.reader == nil {
		return nil, localize(ctx, apperrors.New(apperrors.CodeRelayUnavailable, "presence reader is not configured"))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"connections": structpb.NewNumberValue(float64(s.reader.Len())),
		"rooms":       structpb.NewNumberValue(float64(len(s.reader.Rooms()))),
	}}, nil
}

func localize(ctx context.Context, err *apperrors.Error) error {
	var acceptLanguage string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		acceptLanguage = strings.Join(md.Get(acceptLanguageKey), ",")
	}
	return err.Localized(acceptLanguage)
}

func participantStruct(p relaypresence.Participant) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"connectionId": structpb.NewStringValue(p.ConnectionID),
		"userId":       structpb.NewStringValue(p.UserID),
		"username":     structpb.NewStringValue(p.Username),
		"roomId":       structpb.NewStringValue(p.RoomID),
	}}
}

func participantFromStruct(s *structpb.Struct) relaypresence.Participant {
	fields := s.GetFields()
	return relaypresence.Participant{
		ConnectionID: fields["connectionId"].GetStringValue(),
		UserID:       fields["userId"].GetStringValue(),
		Username:     fields["username"].GetStringValue(),
		RoomID:       fields["roomId"].GetStringValue(),
	}
}
