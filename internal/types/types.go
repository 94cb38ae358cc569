// Package types holds the wire-level and error types shared across the
// engine, room, store and realtime packages.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind is the closed set of error kinds surfaced at the core boundary.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindPrecondition ErrorKind = "precondition"
	KindConflict     ErrorKind = "conflict"
	KindAuth         ErrorKind = "auth"
	KindInternal     ErrorKind = "internal"
)

// AppError is the error type returned across the core boundary so callers
// can branch on Kind without parsing strings. The engine's command
// handlers also return plain sentinel errors, and the Store facade and the
// EventBus return their underlying errors without wrapping them.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewError builds an AppError of the given kind.
func NewError(kind ErrorKind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg}
}

// WrapError wraps an underlying error, preserving its Kind if it is already
// an AppError.
func WrapError(kind ErrorKind, msg string, err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return &AppError{Kind: kind, Message: msg, Err: err}
}

// Is reports whether err is an AppError of the given kind.
func Is(err error, kind ErrorKind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

func ValidationError(msg string) *AppError   { return NewError(KindValidation, msg) }
func NotFoundError(msg string) *AppError     { return NewError(KindNotFound, msg) }
func PreconditionError(msg string) *AppError { return NewError(KindPrecondition, msg) }
func ConflictError(msg string) *AppError     { return NewError(KindConflict, msg) }
func AuthError(msg string) *AppError         { return NewError(KindAuth, msg) }
func InternalError(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}

// CommandEnvelope is the inbound client command, carried from the socket
// gateway through RoomActor.Dispatch into engine.HandleCommand.
type CommandEnvelope struct {
	CommandID      string          `json:"command_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	RoomID         string          `json:"room_id"`
	Type           string          `json:"type"`
	LastSeenSeq    int64           `json:"last_seen_seq"`
	ActorUserID    string          `json:"actor_user_id"`
	Payload        json.RawMessage `json:"data"`
}

// Event is a single committed, sequenced fact appended to a room's event
// log. Seq is assigned atomically by the Store at append time.
type Event struct {
	RoomID            string          `json:"room_id"`
	Seq               int64           `json:"seq"`
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	ActorUserID       string          `json:"actor_user_id,omitempty"`
	CausationCommand  string          `json:"causation_command_id,omitempty"`
	Payload           json.RawMessage `json:"payload"`
	ServerTimestampMs int64           `json:"server_ts_ms"`
}

// CommandResult status values.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusDedup    = "deduplicated"
)

// CommandResult is returned to the submitting client only: night-action
// errors are never broadcast to other players.
type CommandResult struct {
	CommandID      string `json:"command_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	AppliedSeqFrom int64  `json:"applied_seq_from"`
	AppliedSeqTo   int64  `json:"applied_seq_to"`
}

// ProjectedEvent is an Event after visibility filtering for a given viewer;
// this is what actually goes out over a socket.
type ProjectedEvent struct {
	RoomID      string          `json:"room_id"`
	Seq         int64           `json:"seq"`
	EventType   string          `json:"event_type"`
	ActorUserID string          `json:"actor_user_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	ServerTS    int64           `json:"server_ts"`
}

// Viewer identifies who a snapshot or projected event is being built for.
// There is no spectator/DM role in this core — the host is just another
// player, so visibility is decided entirely by UserID.
type Viewer struct {
	UserID string
}
