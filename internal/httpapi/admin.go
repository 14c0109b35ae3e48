package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/auth"
	"github.com/Kocoro-lab/brandrag/internal/config"
)

// MaintenanceEngine is the part of the RAG engine operators drive
type MaintenanceEngine interface {
	CleanupOldVectors(ctx context.Context, userID string, keepDays *int) (int, error)
	CleanupAllUsers(ctx context.Context, keepDays *int) (int, error)
	LoadSystemConfig(ctx context.Context) config.SystemConfig
}

// AdminHandler serves operator endpoints. Endpoints:
//
//	POST /admin/vectors/cleanup
//	GET  /admin/config
//	POST /admin/tokens
type AdminHandler struct {
	engine MaintenanceEngine
	mw     *auth.Middleware
	jwt    *auth.JWTManager
	logger *zap.Logger
}

// NewAdminHandler constructs a new handler. jwt may be nil, which disables token minting.
func NewAdminHandler(engine MaintenanceEngine, mw *auth.Middleware, jwt *auth.JWTManager, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{engine: engine, mw: mw, jwt: jwt, logger: logger}
}

// RegisterRoutes registers admin endpoints on the given mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /admin/vectors/cleanup", instrument("cleanup", h.mw.RequireAdmin(http.HandlerFunc(h.handleCleanup))))
	mux.Handle("GET /admin/config", instrument("config", h.mw.RequireAdmin(http.HandlerFunc(h.handleConfig))))
	if h.jwt != nil {
		mux.Handle("POST /admin/tokens", instrument("tokens", h.mw.RequireAdmin(http.HandlerFunc(h.handleToken))))
	}
}

type cleanupRequest struct {
	UserID   string `json:"userId,omitempty"`
	KeepDays *int   `json:"keepDays,omitempty"`
}

func (h *AdminHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	// an empty body cleans every user with the configured retention
	if err := decodeJSON(w, r, &req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.KeepDays != nil && *req.KeepDays < 0 {
		writeError(w, http.StatusBadRequest, "keepDays must not be negative")
		return
	}

	var (
		deleted int
		err     error
	)
	start := time.Now()
	if req.UserID != "" {
		deleted, err = h.engine.CleanupOldVectors(r.Context(), req.UserID, req.KeepDays)
	} else {
		deleted, err = h.engine.CleanupAllUsers(r.Context(), req.KeepDays)
	}
	if err != nil {
		h.logger.Error("Vector cleanup failed",
			zap.String("user_id", req.UserID),
			zap.Int("deleted", deleted),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   sanitizeErr(err.Error()),
			"deleted": deleted,
		})
		return
	}
	h.logger.Info("Vector cleanup completed",
		zap.String("user_id", req.UserID),
		zap.Int("deleted", deleted),
		zap.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *AdminHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.LoadSystemConfig(r.Context()))
}

type tokenRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

func (h *AdminHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	role := req.Role
	if role == "" {
		role = auth.RoleUser
	}
	if role != auth.RoleUser && role != auth.RoleAdmin {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	token, err := h.jwt.GenerateAccessToken(req.UserID, req.Email, role)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token, "tokenType": "Bearer"})
}
