package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/hub"
	"github.com/coreadhq/coread-backend/internal/protocol"
	"github.com/coreadhq/coread-backend/internal/room"
	"github.com/coreadhq/coread-backend/internal/store"
)

func GenerateID(prefix string, length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	id := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		id[i] = charset[num.Int64()]
	}
	return prefix + string(id), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorBody{Code: code, Message: message})
}

// fanOut hands an annotation event to the document's room, if anyone is
// connected. REST writes are valid with no live session.
func fanOut(h *hub.Hub, docID string, msg protocol.Message) {
	if rm := h.Room(docID); rm != nil {
		rm.Inbox() <- room.AnnotationEvent{Msg: msg}
	}
}

// CreateSession creates (or reuses) the room for a document session.
func CreateSession(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DocumentID string `json:"document_id"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		id := body.DocumentID
		if id == "" {
			generated, err := GenerateID("doc-", 8)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal", "failed to generate session id")
				return
			}
			id = generated
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.EnsureRoom{ID: id, Reply: reply}
		if <-reply == nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to create session")
			return
		}
		logger.Info("session ready", zap.String("session", id))
		writeJSON(w, http.StatusCreated, struct {
			SessionID string `json:"session_id"`
		}{SessionID: id})
	}
}

// GetAnnotations serves the bulk snapshot used for initial sync and resync.
func GetAnnotations(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		all, err := st.ListByDocument(r.Context(), docID)
		if err != nil {
			logger.Error("list annotations", zap.String("doc_id", docID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "failed to list annotations")
			return
		}

		snap := protocol.AnnotationSnapshot{
			Comments:   []annotation.Annotation{},
			Highlights: []annotation.Annotation{},
			Bookmarks:  []annotation.Annotation{},
		}
		for _, a := range all {
			switch a.Kind {
			case annotation.KindComment:
				snap.Comments = append(snap.Comments, a)
			case annotation.KindHighlight:
				snap.Highlights = append(snap.Highlights, a)
			case annotation.KindBookmark:
				snap.Bookmarks = append(snap.Bookmarks, a)
			}
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// CreateAnnotation persists a new annotation of the given kind, assigns
// its id, and fans the created event out to connected participants.
func CreateAnnotation(h *hub.Hub, st store.Store, logger *zap.Logger, kind annotation.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")

		var req protocol.CreateAnnotationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "malformed body")
			return
		}
		if req.AuthorID == "" {
			writeError(w, http.StatusBadRequest, "missing_author", "author_id is required")
			return
		}

		id, err := GenerateID(string(kind[:1])+"-", 10)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to generate id")
			return
		}
		ann := annotation.Annotation{
			ID:        id,
			Kind:      kind,
			AuthorID:  req.AuthorID,
			Page:      req.Page,
			UpdatedAt: time.Now().UTC(),
			Snippet:   req.Snippet,
			Text:      req.Text,
			Color:     req.Color,
			Coords:    req.Coords,
		}
		if kind == annotation.KindBookmark {
			ann.Snippet, ann.Text, ann.Color, ann.Coords = "", "", "", nil
		}
		if err := ann.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_annotation", err.Error())
			return
		}

		if err := st.SaveAnnotation(r.Context(), docID, ann); err != nil {
			logger.Error("save annotation", zap.String("doc_id", docID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "failed to save annotation")
			return
		}

		fanOut(h, docID, protocol.Message{Type: protocol.TypeAnnotationCreated, Annotation: &ann})
		writeJSON(w, http.StatusCreated, ann)
	}
}

// UpdateComment applies a text edit to an existing comment.
func UpdateComment(h *hub.Hub, st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req protocol.UpdateCommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "malformed body")
			return
		}

		rec, err := st.GetAnnotation(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such comment")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
			return
		}
		if rec.Annotation.Kind != annotation.KindComment {
			writeError(w, http.StatusNotFound, "not_found", "no such comment")
			return
		}
		if rec.Annotation.AuthorID != req.AuthorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the author may edit a comment")
			return
		}

		ann := rec.Annotation
		ann.Text = req.Text
		ann.UpdatedAt = time.Now().UTC()
		if err := st.SaveAnnotation(r.Context(), rec.DocumentID, ann); err != nil {
			logger.Error("update annotation", zap.String("id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "failed to update annotation")
			return
		}

		fanOut(h, rec.DocumentID, protocol.Message{Type: protocol.TypeAnnotationUpdated, Annotation: &ann})
		writeJSON(w, http.StatusOK, ann)
	}
}

// DeleteAnnotation removes an annotation. Only its author may delete it;
// identity comes from the X-User-ID header supplied by the session layer.
func DeleteAnnotation(h *hub.Hub, st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		authorID := r.Header.Get("X-User-ID")
		if authorID == "" {
			writeError(w, http.StatusBadRequest, "missing_author", "X-User-ID header is required")
			return
		}

		rec, err := st.DeleteAnnotation(r.Context(), id, authorID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "no such annotation")
			return
		case errors.Is(err, store.ErrForbidden):
			writeError(w, http.StatusForbidden, "forbidden", "only the author may delete an annotation")
			return
		case err != nil:
			logger.Error("delete annotation", zap.String("id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "failed to delete annotation")
			return
		}

		fanOut(h, rec.DocumentID, protocol.Message{Type: protocol.TypeAnnotationDeleted, AnnotationID: id})
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetDocument streams the raw document bytes to the rendering engine.
func GetDocument(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		content, err := st.GetDocument(r.Context(), docID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such document")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to load document")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(content)
	}
}

// PutDocument uploads document bytes.
func PutDocument(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		content, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_body", "failed to read body")
			return
		}
		if err := st.PutDocument(r.Context(), docID, content); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to store document")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
