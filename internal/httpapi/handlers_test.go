package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/geometry"
	"github.com/coreadhq/coread-backend/internal/hub"
	"github.com/coreadhq/coread-backend/internal/protocol"
	"github.com/coreadhq/coread-backend/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, logger)
	st := store.NewMemoryStore()
	srv := httptest.NewServer(SetupRoutes(h, st, logger))
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func sampleCoords() *geometry.Coordinates {
	return &geometry.Coordinates{StartX: 0.1, StartY: 0.2, EndX: 0.5, EndY: 0.25}
}

func TestCreateCommentRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/documents/doc-1/comments", protocol.CreateAnnotationRequest{
		AuthorID: "u1", Page: 3, Snippet: "quoted text", Text: "my thought", Coords: sampleCoords(),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ann := decode[annotation.Annotation](t, resp)
	assert.True(t, strings.HasPrefix(ann.ID, "c-"), "id %q", ann.ID)
	assert.Equal(t, annotation.KindComment, ann.Kind)
	assert.Equal(t, "u1", ann.AuthorID)
	assert.False(t, ann.UpdatedAt.IsZero())

	resp = doJSON(t, http.MethodGet, srv.URL+"/documents/doc-1/annotations", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[protocol.AnnotationSnapshot](t, resp)
	require.Len(t, snap.Comments, 1)
	assert.Equal(t, ann.ID, snap.Comments[0].ID)
	assert.Empty(t, snap.Highlights)
	assert.Empty(t, snap.Bookmarks)
}

func TestCreateAnnotationValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	// No author.
	resp := doJSON(t, http.MethodPost, srv.URL+"/documents/doc-1/highlights", protocol.CreateAnnotationRequest{
		Page: 1, Coords: sampleCoords(),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No coordinates on a highlight.
	resp = doJSON(t, http.MethodPost, srv.URL+"/documents/doc-1/highlights", protocol.CreateAnnotationRequest{
		AuthorID: "u1", Page: 1, Color: "#fff176",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	eb := decode[protocol.ErrorBody](t, resp)
	assert.Equal(t, "invalid_annotation", eb.Code)
}

func TestCreateBookmarkDropsNonBookmarkFields(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/documents/doc-1/bookmarks", protocol.CreateAnnotationRequest{
		AuthorID: "u1", Page: 8, Snippet: "ignored", Text: "ignored", Color: "#fff", Coords: sampleCoords(),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ann := decode[annotation.Annotation](t, resp)
	assert.Equal(t, annotation.KindBookmark, ann.Kind)
	assert.Equal(t, 8, ann.Page)
	assert.Empty(t, ann.Snippet)
	assert.Empty(t, ann.Text)
	assert.Empty(t, ann.Color)
	assert.Nil(t, ann.Coords)
}

func TestUpdateComment(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/documents/doc-1/comments", protocol.CreateAnnotationRequest{
		AuthorID: "u1", Page: 0, Text: "v1", Coords: sampleCoords(),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[annotation.Annotation](t, resp)

	// Someone else cannot edit it.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/comments/"+created.ID, protocol.UpdateCommentRequest{
		AuthorID: "u2", Text: "hijacked",
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The author can.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/comments/"+created.ID, protocol.UpdateCommentRequest{
		AuthorID: "u1", Text: "v2",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[annotation.Annotation](t, resp)
	assert.Equal(t, "v2", updated.Text)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt) || updated.UpdatedAt.Equal(created.UpdatedAt))

	// Unknown id.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/comments/nope", protocol.UpdateCommentRequest{
		AuthorID: "u1", Text: "x",
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateCommentRejectsOtherKinds(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/documents/doc-1/highlights", protocol.CreateAnnotationRequest{
		AuthorID: "u1", Page: 0, Color: "#fff176", Coords: sampleCoords(),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	hl := decode[annotation.Annotation](t, resp)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/comments/"+hl.ID, protocol.UpdateCommentRequest{
		AuthorID: "u1", Text: "x",
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteAnnotationOwnership(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/documents/doc-1/bookmarks", protocol.CreateAnnotationRequest{
		AuthorID: "u1", Page: 2,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bm := decode[annotation.Annotation](t, resp)

	// No identity header.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/bookmarks/"+bm.ID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Wrong author.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/bookmarks/"+bm.ID, nil, map[string]string{"X-User-ID": "u2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The author succeeds; a repeat is a plain 404.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/bookmarks/"+bm.ID, nil, map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodDelete, srv.URL+"/bookmarks/"+bm.ID, nil, map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentContentRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/documents/doc-1/content", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/documents/doc-1/content", bytes.NewReader([]byte("%PDF-1.7 fake")))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, putResp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/documents/doc-1/content", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(body))
}

func TestCreateSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]string{"document_id": "doc-42"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[struct {
		SessionID string `json:"session_id"`
	}](t, resp)
	assert.Equal(t, "doc-42", out.SessionID)

	// Without a document id the service mints one.
	resp = doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]string{}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out = decode[struct {
		SessionID string `json:"session_id"`
	}](t, resp)
	assert.True(t, strings.HasPrefix(out.SessionID, "doc-"))
	assert.Len(t, out.SessionID, len("doc-")+8)
}

func TestGenerateIDLengthAndCharset(t *testing.T) {
	id, err := GenerateID("x-", 12)
	require.NoError(t, err)
	require.Len(t, id, 14)
	for _, r := range id[2:] {
		assert.Contains(t, "abcdefghijklmnopqrstuvwxyz0123456789", string(r))
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
