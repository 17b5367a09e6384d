// Package protocol defines the wire contract between the sync client and
// the synchronization service: the websocket stream envelope and the
// payloads of the bulk REST calls.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/geometry"
	"github.com/coreadhq/coread-backend/internal/participant"
)

// Stream message types.
const (
	TypeWelcome           = "welcome"
	TypeLeave             = "leave"
	TypePageSync          = "page_sync"
	TypeTransferRequest   = "transfer_request"
	TypeLeadershipChanged = "leadership_changed"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeAnnotationCreated = "annotation_created"
	TypeAnnotationUpdated = "annotation_updated"
	TypeAnnotationDeleted = "annotation_deleted"
	TypeError             = "error"
)

// Error frame codes. The transfer-arbitration outcomes are a distinct
// set so clients can tell them apart from unrelated stream errors.
const (
	CodeNotLeader          = "not_leader"
	CodeTargetNotConnected = "target_not_connected"
	CodeUnknownType        = "unknown_type"
	CodeBadJSON            = "bad_json"
)

// Message is the single envelope for every stream frame. Type decides
// which fields are populated.
type Message struct {
	Type string `json:"type"`

	// page_sync
	LeaderID string    `json:"leader_id,omitempty"`
	Epoch    int64     `json:"epoch,omitempty"`
	Page     int       `json:"page"`
	SentAt   time.Time `json:"sent_at,omitempty"`

	// transfer_request
	TargetID string `json:"target_id,omitempty"`

	// leadership_changed
	NewLeaderID string `json:"new_leader_id,omitempty"`

	// participant_joined / participant_left
	Participant *participant.Participant `json:"participant,omitempty"`

	// welcome
	Participants []participant.Participant `json:"participants,omitempty"`
	CurrentPage  int                       `json:"current_page,omitempty"`

	// annotation_created / annotation_updated
	Annotation *annotation.Annotation `json:"annotation,omitempty"`

	// annotation_deleted
	AnnotationID string `json:"annotation_id,omitempty"`

	// error
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Encode serializes the message to JSON bytes.
func (m Message) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

// AnnotationSnapshot is the bulk-fetch response used for the initial sync
// and after every reconnect.
type AnnotationSnapshot struct {
	Comments   []annotation.Annotation `json:"comments"`
	Highlights []annotation.Annotation `json:"highlights"`
	Bookmarks  []annotation.Annotation `json:"bookmarks"`
}

// Flatten merges the snapshot into a single list.
func (s AnnotationSnapshot) Flatten() []annotation.Annotation {
	out := make([]annotation.Annotation, 0, len(s.Comments)+len(s.Highlights)+len(s.Bookmarks))
	out = append(out, s.Comments...)
	out = append(out, s.Highlights...)
	out = append(out, s.Bookmarks...)
	return out
}

// CreateAnnotationRequest is the body of the annotation POST endpoints.
// The endpoint path fixes the kind; unused fields are ignored for
// bookmarks.
type CreateAnnotationRequest struct {
	AuthorID string                `json:"author_id"`
	Page     int                   `json:"page"`
	Snippet  string                `json:"snippet,omitempty"`
	Text     string                `json:"text,omitempty"`
	Color    string                `json:"color,omitempty"`
	Coords   *geometry.Coordinates `json:"coords,omitempty"`
}

// UpdateCommentRequest is the body of PATCH /comments/{id}.
type UpdateCommentRequest struct {
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
}

// ErrorBody is the typed error payload of the REST endpoints.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
