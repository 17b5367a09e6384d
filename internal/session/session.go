// Package session implements the sync session controller: the single
// state machine that consumes transport events, owns the annotation
// store, participant registry and leadership state, and exposes the
// command API used by the presentation layer.
package session

import (
	"context"
	"errors"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/protocol"
)

var ErrNotLeader = errors.New("only the leader may do this")
var ErrClosed = errors.New("session closed")
var ErrNotConnected = errors.New("not connected to the sync service")
var ErrUnknownAnnotation = errors.New("unknown annotation")
var ErrPendingAnnotation = errors.New("annotation not yet confirmed by the service")

// Role is the client's position in the leadership state machine.
type Role string

const (
	RoleFollower        Role = "follower"
	RoleLeader          Role = "leader"
	RoleTransferPending Role = "transfer_pending"
)

// Transport is the session channel the controller consumes. Satisfied by
// *transport.Conn.
type Transport interface {
	Welcome() protocol.Message
	Inbound() <-chan protocol.Message
	Send(protocol.Message) error
	Close() error
}

// Connector establishes a session channel, owning retry/backoff.
type Connector func(ctx context.Context) (Transport, error)

// API is the bulk REST surface of the sync service. Satisfied by
// *apiclient.Client.
type API interface {
	FetchAnnotations(ctx context.Context, docID string) (protocol.AnnotationSnapshot, error)
	CreateComment(ctx context.Context, docID string, req protocol.CreateAnnotationRequest) (annotation.Annotation, error)
	CreateHighlight(ctx context.Context, docID string, req protocol.CreateAnnotationRequest) (annotation.Annotation, error)
	CreateBookmark(ctx context.Context, docID string, req protocol.CreateAnnotationRequest) (annotation.Annotation, error)
	DeleteComment(ctx context.Context, id, userID string) error
	DeleteHighlight(ctx context.Context, id, userID string) error
	DeleteBookmark(ctx context.Context, id, userID string) error
}

// View is an immutable snapshot of the controller's state.
type View struct {
	Role     Role
	Epoch    int64
	LeaderID string
	Page     int
	Synced   bool
}

// EventKind classifies notifications pushed to the presentation layer.
type EventKind string

const (
	EventAnnotationsChanged  EventKind = "annotations_changed"
	EventParticipantsChanged EventKind = "participants_changed"
	EventLeadershipChanged   EventKind = "leadership_changed"
	EventSyncLost            EventKind = "sync_lost"
	EventSyncRestored        EventKind = "sync_restored"
	EventSyncFailed          EventKind = "sync_failed"
	EventServiceError        EventKind = "service_error"
)

// Event is a lightweight notification; consumers re-read snapshots for
// the actual state.
type Event struct {
	Kind   EventKind
	Detail string
}
