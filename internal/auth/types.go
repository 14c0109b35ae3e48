package auth

import "errors"

// Roles carried in access tokens
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	// ErrNoUser is returned when a request context carries no authenticated user
	ErrNoUser = errors.New("no user in context")
	// ErrInvalidToken covers malformed, expired and mis-signed tokens
	ErrInvalidToken = errors.New("invalid token")
)

// UserContext is the authenticated caller of a request
type UserContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the caller may run operator actions
func (u *UserContext) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
