package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	token, err := m.GenerateAccessToken("user-1", "a@example.com", "")
	require.NoError(t, err)

	user, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.UserID)
	assert.Equal(t, RoleUser, user.Role)
	assert.False(t, user.IsAdmin())
}

func TestJWTRejectsForeignTokens(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)

	other, err := NewJWTManager("other-secret", time.Minute).GenerateAccessToken("u", "", RoleUser)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewJWTManager("secret", time.Nanosecond).GenerateAccessToken("u", "", RoleUser)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.ValidateAccessToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "someone-else"},
	})
	signed, err := wrongIssuer.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer ", "Basic abc"} {
		_, err := ExtractBearerToken(h)
		assert.Error(t, err, h)
	}
}

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := GetUserContext(r.Context())
		require.NoError(t, err)
		_, _ = w.Write([]byte(user.UserID))
	})
}

func TestRequireUser(t *testing.T) {
	jm := NewJWTManager("secret", time.Minute)
	mw := NewMiddleware(jm, "", false, zaptest.NewLogger(t))
	h := mw.RequireUser(echoUser(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jm.GenerateAccessToken("user-9", "", RoleUser)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", rec.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	jm := NewJWTManager("secret", time.Minute)
	mw := NewMiddleware(jm, "ops-token", false, zaptest.NewLogger(t))
	h := mw.RequireAdmin(echoUser(t))

	userToken, _ := jm.GenerateAccessToken("u", "", RoleUser)
	adminToken, _ := jm.GenerateAccessToken("boss", "", RoleAdmin)

	tests := []struct {
		token string
		code  int
	}{
		{"ops-token", http.StatusOK},
		{adminToken, http.StatusOK},
		{userToken, http.StatusForbidden},
		{"guess", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tt.token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.code, rec.Code)
	}
}

func TestSkipAuthUsesDevUser(t *testing.T) {
	mw := NewMiddleware(nil, "", true, zaptest.NewLogger(t))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "local")
	rec := httptest.NewRecorder()
	mw.RequireUser(echoUser(t)).ServeHTTP(rec, req)
	assert.Equal(t, "local", rec.Body.String())
}
