package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/brandrag/internal/auth"
	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/ratecontrol"
	"github.com/Kocoro-lab/brandrag/internal/vectordb"
)

type mockEngine struct{ mock.Mock }

func (m *mockEngine) StoreContentVector(ctx context.Context, in vectordb.CreateInput) error {
	return m.Called(ctx, in).Error(0)
}

func (m *mockEngine) UpdateContentVector(ctx context.Context, userID, contentID, text string, metadata map[string]interface{}) {
	m.Called(ctx, userID, contentID, text, metadata)
}

func (m *mockEngine) CheckRateLimit(ctx context.Context, userID string) ratecontrol.Decision {
	return m.Called(ctx, userID).Get(0).(ratecontrol.Decision)
}

func (m *mockEngine) CleanupOldVectors(ctx context.Context, userID string, keepDays *int) (int, error) {
	args := m.Called(ctx, userID, keepDays)
	return args.Int(0), args.Error(1)
}

func (m *mockEngine) CleanupAllUsers(ctx context.Context, keepDays *int) (int, error) {
	args := m.Called(ctx, keepDays)
	return args.Int(0), args.Error(1)
}

func (m *mockEngine) LoadSystemConfig(ctx context.Context) config.SystemConfig {
	return m.Called(ctx).Get(0).(config.SystemConfig)
}

const adminToken = "operator-secret"

type fixture struct {
	mux    *http.ServeMux
	engine *mockEngine
	jwt    *auth.JWTManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	jwt := auth.NewJWTManager("test-signing-key", time.Hour)
	mw := auth.NewMiddleware(jwt, adminToken, false, logger)
	engine := &mockEngine{}
	mux := NewMux(
		NewVectorHandler(engine, mw, logger),
		NewAdminHandler(engine, mw, jwt, logger),
	)
	return &fixture{mux: mux, engine: engine, jwt: jwt}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) userToken(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.jwt.GenerateAccessToken(userID, userID+"@example.com", auth.RoleUser)
	require.NoError(t, err)
	return tok
}

func TestStoreVectorUsesAuthenticatedUser(t *testing.T) {
	f := newFixture(t)
	f.engine.On("StoreContentVector", mock.Anything, mock.MatchedBy(func(in vectordb.CreateInput) bool {
		return in.UserID == "u1" && in.ContentID == "c1" && in.ContentType == vectordb.ContentBlogPost
	})).Return(nil).Once()

	rec := f.do(t, http.MethodPost, "/v1/vectors", f.userToken(t, "u1"), map[string]interface{}{
		"userId":      "someone-else",
		"contentType": "blog_post",
		"contentId":   "c1",
		"textContent": "launch announcement",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	f.engine.AssertExpectations(t)
}

func TestStoreVectorRateLimited(t *testing.T) {
	f := newFixture(t)
	reason := "Hourly rate limit exceeded: 50/50"
	f.engine.On("StoreContentVector", mock.Anything, mock.Anything).
		Return(&vectordb.RateLimitError{UserID: "u1", Reason: reason}).Once()

	rec := f.do(t, http.MethodPost, "/v1/vectors", f.userToken(t, "u1"), map[string]interface{}{
		"contentId":   "c1",
		"textContent": "hello",
	})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, reason, body["reason"])
}

func TestStoreVectorValidation(t *testing.T) {
	f := newFixture(t)
	tok := f.userToken(t, "u1")

	rec := f.do(t, http.MethodPost, "/v1/vectors", tok, map[string]interface{}{"contentId": "c1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/vectors", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+tok)
	raw := httptest.NewRecorder()
	f.mux.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	f.engine.AssertNotCalled(t, "StoreContentVector", mock.Anything, mock.Anything)
}

func TestVectorRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/vectors", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/ratelimit", "garbage", nil).Code)
}

func TestUpdateVectorAlwaysNoContent(t *testing.T) {
	f := newFixture(t)
	meta := map[string]interface{}{"channel": "email"}
	f.engine.On("UpdateContentVector", mock.Anything, "u1", "c9", "revised copy", meta).Return().Once()

	rec := f.do(t, http.MethodPut, "/v1/vectors/c9", f.userToken(t, "u1"), map[string]interface{}{
		"textContent": "revised copy",
		"metadata":    meta,
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	f.engine.AssertExpectations(t)
}

func TestRateLimitPreflight(t *testing.T) {
	f := newFixture(t)
	f.engine.On("CheckRateLimit", mock.Anything, "u1").
		Return(ratecontrol.Decision{Allowed: false, Reason: "Daily rate limit exceeded: 500/500"}).Once()

	rec := f.do(t, http.MethodGet, "/v1/ratelimit", f.userToken(t, "u1"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "Daily rate limit exceeded: 500/500", body["reason"])
}

func TestAdminCleanup(t *testing.T) {
	keep := 7
	tests := []struct {
		name     string
		body     interface{}
		setup    func(m *mockEngine)
		wantCode int
	}{
		{
			name:     "single user",
			body:     map[string]interface{}{"userId": "u1", "keepDays": keep},
			setup:    func(m *mockEngine) { m.On("CleanupOldVectors", mock.Anything, "u1", &keep).Return(3, nil) },
			wantCode: http.StatusOK,
		},
		{
			name:     "all users with empty body",
			setup:    func(m *mockEngine) { m.On("CleanupAllUsers", mock.Anything, (*int)(nil)).Return(12, nil) },
			wantCode: http.StatusOK,
		},
		{
			name:     "store failure",
			body:     map[string]interface{}{"userId": "u2"},
			setup:    func(m *mockEngine) { m.On("CleanupOldVectors", mock.Anything, "u2", (*int)(nil)).Return(1, errors.New("batch delete failed")) },
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "negative keepDays",
			body:     map[string]interface{}{"keepDays": -1},
			setup:    func(*mockEngine) {},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f.engine)
			rec := f.do(t, http.MethodPost, "/admin/vectors/cleanup", adminToken, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			f.engine.AssertExpectations(t)
		})
	}
}

func TestAdminCleanupReportsDeleted(t *testing.T) {
	f := newFixture(t)
	f.engine.On("CleanupAllUsers", mock.Anything, (*int)(nil)).Return(4, nil)

	rec := f.do(t, http.MethodPost, "/admin/vectors/cleanup", adminToken, map[string]interface{}{})

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body["deleted"])
}

func TestAdminRoutesRejectUserTokens(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/admin/config", f.userToken(t, "u1"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminConfig(t *testing.T) {
	f := newFixture(t)
	f.engine.On("LoadSystemConfig", mock.Anything).Return(config.DefaultSystemConfig())

	rec := f.do(t, http.MethodGet, "/admin/config", adminToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got config.SystemConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, config.DefaultSystemConfig(), got)
}

func TestAdminIssuesUsableToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/admin/tokens", adminToken, map[string]string{"userId": "u5"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	user, err := f.jwt.ValidateAccessToken(body["accessToken"])
	require.NoError(t, err)
	assert.Equal(t, "u5", user.UserID)
	assert.Equal(t, auth.RoleUser, user.Role)

	bad := f.do(t, http.MethodPost, "/admin/tokens", adminToken, map[string]string{"userId": "u5", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/v1/ratelimit", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "brandrag_http_requests_total")
}
