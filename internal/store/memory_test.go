package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/geometry"
)

func sampleComment(id, author string, page int) annotation.Annotation {
	return annotation.Annotation{
		ID:        id,
		Kind:      annotation.KindComment,
		AuthorID:  author,
		Page:      page,
		UpdatedAt: time.Now(),
		Text:      "a note",
		Coords:    &geometry.Coordinates{StartX: 0.1, StartY: 0.1, EndX: 0.2, EndY: 0.2},
	}
}

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ann := sampleComment("c1", "alice", 3)
	require.NoError(t, s.SaveAnnotation(ctx, "doc-1", ann))

	rec, err := s.GetAnnotation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", rec.DocumentID)
	assert.Equal(t, ann, rec.Annotation)

	_, err = s.GetAnnotation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Only the author may delete.
	_, err = s.DeleteAnnotation(ctx, "c1", "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	rec, err = s.DeleteAnnotation(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", rec.Annotation.ID)

	_, err = s.DeleteAnnotation(ctx, "c1", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveAnnotation(ctx, "doc-1", sampleComment("b", "alice", 5)))
	require.NoError(t, s.SaveAnnotation(ctx, "doc-1", sampleComment("a", "alice", 1)))
	require.NoError(t, s.SaveAnnotation(ctx, "doc-2", sampleComment("x", "bob", 0)))

	got, err := s.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	empty, err := s.ListByDocument(ctx, "doc-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_Documents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	content := []byte("%PDF-1.7 ...")
	require.NoError(t, s.PutDocument(ctx, "doc-1", content))

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Returned bytes are a copy.
	got[0] = 'X'
	again, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, byte('%'), again[0])
}
