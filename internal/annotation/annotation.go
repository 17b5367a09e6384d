// Package annotation defines the shared annotation model and the
// client-side store all participants converge on.
package annotation

import (
	"errors"
	"time"

	"github.com/coreadhq/coread-backend/internal/geometry"
)

var ErrUnknownKind = errors.New("unknown annotation kind")
var ErrMissingCoordinates = errors.New("annotation requires coordinates")
var ErrInvalidPage = errors.New("page index must be non-negative")

// Kind discriminates the closed set of annotation variants.
type Kind string

const (
	KindComment   Kind = "comment"
	KindHighlight Kind = "highlight"
	KindBookmark  Kind = "bookmark"
)

// Annotation is a tagged union over comments, highlights and bookmarks.
// Kind decides which of the optional fields are meaningful: comments carry
// Snippet, Text and Coords; highlights carry Snippet, Color and Coords;
// bookmarks are page-level only.
type Annotation struct {
	ID        string                `json:"id"`
	Kind      Kind                  `json:"kind"`
	AuthorID  string                `json:"author_id"`
	Page      int                   `json:"page"`
	UpdatedAt time.Time             `json:"updated_at"`
	Snippet   string                `json:"snippet,omitempty"`
	Text      string                `json:"text,omitempty"`
	Color     string                `json:"color,omitempty"`
	Coords    *geometry.Coordinates `json:"coords,omitempty"`
}

// Validate checks kind-specific structural rules. Coordinates, when
// present, must already be normalized fractions.
func (a Annotation) Validate() error {
	if a.Page < 0 {
		return ErrInvalidPage
	}
	switch a.Kind {
	case KindComment, KindHighlight:
		if a.Coords == nil {
			return ErrMissingCoordinates
		}
		return a.Coords.Validate()
	case KindBookmark:
		return nil
	default:
		return ErrUnknownKind
	}
}
