package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"
)

// ContextKey is the key type for context values
type ContextKey string

// UserContextKey is the context key for user information
const UserContextKey ContextKey = "user"

// Middleware authenticates HTTP requests
type Middleware struct {
	jwtManager *JWTManager
	adminToken string
	skipAuth   bool
	logger     *zap.Logger
}

// NewMiddleware creates the authentication middleware. With skipAuth every request
// runs as a development user.
func NewMiddleware(jwtManager *JWTManager, adminToken string, skipAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwtManager: jwtManager, adminToken: adminToken, skipAuth: skipAuth, logger: logger}
}

// RequireUser admits requests carrying a valid bearer JWT
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			user := &UserContext{UserID: r.Header.Get("X-User-ID"), Role: RoleUser}
			if user.UserID == "" {
				user.UserID = "dev-user"
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
			return
		}

		token, err := ExtractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeUnauthorized(w, "Invalid authorization header")
			return
		}
		user, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			m.logger.Debug("Rejected access token", zap.Error(err))
			writeUnauthorized(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireAdmin admits the static operator token or a JWT with the admin role
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &UserContext{UserID: "dev-admin", Role: RoleAdmin})))
			return
		}

		token, err := ExtractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeUnauthorized(w, "Invalid authorization header")
			return
		}
		if m.adminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) == 1 {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &UserContext{UserID: "operator", Role: RoleAdmin})))
			return
		}
		if m.jwtManager != nil {
			if user, err := m.jwtManager.ValidateAccessToken(token); err == nil && user.IsAdmin() {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}
		}
		http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// WithUser stores user in ctx
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserContext extracts the authenticated user from ctx
func GetUserContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, ErrNoUser
	}
	return user, nil
}
