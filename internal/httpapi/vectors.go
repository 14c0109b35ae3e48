package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/auth"
	"github.com/Kocoro-lab/brandrag/internal/ratecontrol"
	"github.com/Kocoro-lab/brandrag/internal/vectordb"
)

// VectorEngine is the part of the RAG engine the content flow calls
type VectorEngine interface {
	StoreContentVector(ctx context.Context, in vectordb.CreateInput) error
	UpdateContentVector(ctx context.Context, userID, contentID, text string, metadata map[string]interface{})
	CheckRateLimit(ctx context.Context, userID string) ratecontrol.Decision
}

// VectorHandler serves the per-user vector routes. The user always comes from the
// authenticated context, never from the body.
//
//	POST /v1/vectors
//	PUT  /v1/vectors/{contentId}
//	GET  /v1/ratelimit
type VectorHandler struct {
	engine VectorEngine
	mw     *auth.Middleware
	logger *zap.Logger
}

// NewVectorHandler constructs a new handler.
func NewVectorHandler(engine VectorEngine, mw *auth.Middleware, logger *zap.Logger) *VectorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorHandler{engine: engine, mw: mw, logger: logger}
}

// RegisterRoutes registers vector endpoints on the given mux.
func (h *VectorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /v1/vectors", instrument("store_vector", h.mw.RequireUser(http.HandlerFunc(h.handleStore))))
	mux.Handle("PUT /v1/vectors/{contentId}", instrument("update_vector", h.mw.RequireUser(http.HandlerFunc(h.handleUpdate))))
	mux.Handle("GET /v1/ratelimit", instrument("rate_limit", h.mw.RequireUser(http.HandlerFunc(h.handleRateLimit))))
}

type storeVectorRequest struct {
	ContentType      string                 `json:"contentType"`
	ContentID        string                 `json:"contentId"`
	TextContent      string                 `json:"textContent"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	SourceCollection string                 `json:"sourceCollection"`
	SourceDocID      string                 `json:"sourceDocId"`
}

func (h *VectorHandler) handleStore(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req storeVectorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ContentID == "" || strings.TrimSpace(req.TextContent) == "" {
		writeError(w, http.StatusBadRequest, "contentId and textContent are required")
		return
	}

	err = h.engine.StoreContentVector(r.Context(), vectordb.CreateInput{
		UserID:           user.UserID,
		ContentType:      vectordb.ParseContentType(req.ContentType),
		ContentID:        req.ContentID,
		TextContent:      req.TextContent,
		Metadata:         req.Metadata,
		SourceCollection: req.SourceCollection,
		SourceDocID:      req.SourceDocID,
	})
	var rle *vectordb.RateLimitError
	switch {
	case errors.As(err, &rle):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded", "reason": rle.Reason})
		return
	case err != nil:
		// StoreContentVector only surfaces quota errors; treat anything else as a server fault
		h.logger.Error("Unexpected store error", zap.String("user_id", user.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"contentId": req.ContentID})
}

type updateVectorRequest struct {
	TextContent string                 `json:"textContent"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (h *VectorHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req updateVectorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	h.engine.UpdateContentVector(r.Context(), user.UserID, r.PathValue("contentId"), req.TextContent, req.Metadata)
	w.WriteHeader(http.StatusNoContent)
}

func (h *VectorHandler) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	d := h.engine.CheckRateLimit(r.Context(), user.UserID)
	resp := map[string]interface{}{"allowed": d.Allowed}
	if d.Reason != "" {
		resp["reason"] = d.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}
