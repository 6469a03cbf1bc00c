// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Presence query errors
	CodeRoomIDRequired       Code = "PRESENCE_ROOM_ID_REQUIRED"
	CodeConnectionIDRequired Code = "PRESENCE_CONNECTION_ID_REQUIRED"
	CodeConnectionNotFound   Code = "PRESENCE_CONNECTION_NOT_FOUND"

	// Lifecycle errors
	CodeRelayUnavailable Code = "RELAY_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeRoomIDRequired,
		CodeConnectionIDRequired:
		return codes.InvalidArgument

	case CodeConnectionNotFound:
		return codes.NotFound

	case CodeRelayUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
