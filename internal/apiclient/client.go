// Package apiclient implements the bulk REST side of the sync service
// contract: annotation snapshots, annotation writes and document bytes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/protocol"
)

// ErrConflict covers rejections by the service: permission, validation
// and not-found. These surface to the operation's caller and are never
// retried.
var ErrConflict = errors.New("rejected by sync service")

// ErrUnavailable covers transport failures and server errors.
var ErrUnavailable = errors.New("sync service unavailable")

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: http %d on %s", ErrUnavailable, resp.StatusCode, path)
	}
	if resp.StatusCode >= 400 {
		var eb protocol.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Message == "" {
			eb.Message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %s (%s)", ErrConflict, eb.Message, eb.Code)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateSession ensures a live session exists for the document. An empty
// docID lets the service mint one; the effective id is returned.
func (c *Client) CreateSession(ctx context.Context, docID string) (string, error) {
	req := struct {
		DocumentID string `json:"document_id"`
	}{DocumentID: docID}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// FetchAnnotations retrieves the full snapshot for a document, used for
// the initial sync and after every reconnect.
func (c *Client) FetchAnnotations(ctx context.Context, docID string) (protocol.AnnotationSnapshot, error) {
	var snap protocol.AnnotationSnapshot
	err := c.do(ctx, http.MethodGet, "/documents/"+docID+"/annotations", nil, nil, &snap)
	return snap, err
}

func (c *Client) createAnnotation(ctx context.Context, docID, endpoint string, req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	var ann annotation.Annotation
	err := c.do(ctx, http.MethodPost, "/documents/"+docID+"/"+endpoint, nil, req, &ann)
	return ann, err
}

func (c *Client) CreateComment(ctx context.Context, docID string, req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	return c.createAnnotation(ctx, docID, "comments", req)
}

func (c *Client) CreateHighlight(ctx context.Context, docID string, req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	return c.createAnnotation(ctx, docID, "highlights", req)
}

func (c *Client) CreateBookmark(ctx context.Context, docID string, req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	return c.createAnnotation(ctx, docID, "bookmarks", req)
}

func (c *Client) UpdateComment(ctx context.Context, id string, req protocol.UpdateCommentRequest) (annotation.Annotation, error) {
	var ann annotation.Annotation
	err := c.do(ctx, http.MethodPatch, "/comments/"+id, nil, req, &ann)
	return ann, err
}

func (c *Client) deleteAnnotation(ctx context.Context, endpoint, id, userID string) error {
	headers := map[string]string{"X-User-ID": userID}
	return c.do(ctx, http.MethodDelete, "/"+endpoint+"/"+id, headers, nil, nil)
}

func (c *Client) DeleteComment(ctx context.Context, id, userID string) error {
	return c.deleteAnnotation(ctx, "comments", id, userID)
}

func (c *Client) DeleteHighlight(ctx context.Context, id, userID string) error {
	return c.deleteAnnotation(ctx, "highlights", id, userID)
}

func (c *Client) DeleteBookmark(ctx context.Context, id, userID string) error {
	return c.deleteAnnotation(ctx, "bookmarks", id, userID)
}

// FetchDocument returns the raw document bytes for the rendering engine.
// The caller owns the reader.
func (c *Client) FetchDocument(ctx context.Context, docID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+docID+"/content", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: document not found", ErrConflict)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	return resp.Body, nil
}
