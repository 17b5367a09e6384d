package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/hub"
	"github.com/coreadhq/coread-backend/internal/store"
	"github.com/coreadhq/coread-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, st store.Store, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/sessions", CreateSession(h, logger))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, logger))

	r.Get("/documents/{id}/annotations", GetAnnotations(st, logger))
	r.Post("/documents/{id}/comments", CreateAnnotation(h, st, logger, annotation.KindComment))
	r.Post("/documents/{id}/highlights", CreateAnnotation(h, st, logger, annotation.KindHighlight))
	r.Post("/documents/{id}/bookmarks", CreateAnnotation(h, st, logger, annotation.KindBookmark))
	r.Patch("/comments/{id}", UpdateComment(h, st, logger))
	r.Delete("/comments/{id}", DeleteAnnotation(h, st, logger))
	r.Delete("/highlights/{id}", DeleteAnnotation(h, st, logger))
	r.Delete("/bookmarks/{id}", DeleteAnnotation(h, st, logger))

	r.Get("/documents/{id}/content", GetDocument(st))
	r.Put("/documents/{id}/content", PutDocument(st))

	return r
}
