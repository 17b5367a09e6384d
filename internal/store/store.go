// Package store persists annotations and document bytes for the sync
// service behind a backend-agnostic interface.
package store

import (
	"context"
	"errors"

	"github.com/coreadhq/coread-backend/internal/annotation"
)

var ErrNotFound = errors.New("not found")
var ErrForbidden = errors.New("author mismatch")

// Record ties an annotation to the document it belongs to.
type Record struct {
	DocumentID string
	Annotation annotation.Annotation
}

// Store abstracts annotation and document persistence.
// Implementations: MemoryStore and GormStore.
type Store interface {
	// SaveAnnotation inserts or replaces the annotation for the document.
	SaveAnnotation(ctx context.Context, docID string, a annotation.Annotation) error

	// GetAnnotation returns the record for id, or ErrNotFound.
	GetAnnotation(ctx context.Context, id string) (Record, error)

	// DeleteAnnotation removes the annotation iff authorID created it.
	// Returns the removed record, ErrNotFound, or ErrForbidden.
	DeleteAnnotation(ctx context.Context, id, authorID string) (Record, error)

	// ListByDocument returns every annotation of the document.
	ListByDocument(ctx context.Context, docID string) ([]annotation.Annotation, error)

	// PutDocument stores the raw document bytes.
	PutDocument(ctx context.Context, docID string, content []byte) error

	// GetDocument returns the raw document bytes, or ErrNotFound.
	GetDocument(ctx context.Context, docID string) ([]byte, error)
}
