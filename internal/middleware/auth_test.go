package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/servicemarket/internal/model"
)

func TestAuthMiddleware_WithBearerToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	token, err := m.IssueToken(model.Identity{AccountID: 42, Role: model.RoleSupplier})
	require.NoError(t, err)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetIdentityFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(42), id.AccountID)
		assert.Equal(t, model.RoleSupplier, id.Role)
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, nextCalled)
}

func TestNewAuthMiddleware_EmptySecretIsRandom(t *testing.T) {
	first := NewAuthMiddleware("")
	second := NewAuthMiddleware("")

	token, err := first.IssueToken(model.Identity{AccountID: 1, Role: model.RoleApplicant})
	require.NoError(t, err)

	for name, m := range map[string]*AuthMiddleware{"issuer": first, "other process": second} {
		r := httptest.NewRequest(http.MethodGet, "/protected", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		called := false
		m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})).ServeHTTP(w, r)

		assert.Equal(t, m == first, called, name)
	}

	// Токен, подписанный известным ключом, не принимается.
	forged, err := NewAuthMiddleware("servicemarket-secret").IssueToken(model.Identity{AccountID: 1, Role: model.RoleApplicant})
	require.NoError(t, err)
	_, err = first.parseToken(forged)
	assert.Error(t, err)
}

func TestAuthMiddleware_WithCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	token, err := m.IssueToken(model.Identity{AccountID: 7, Role: model.RoleApplicant})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, token)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetIdentityFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(7), id.AccountID)
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookies[0])

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, nextCalled)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	foreign, err := NewAuthMiddleware("other-secret").IssueToken(model.Identity{AccountID: 1, Role: model.RoleApplicant})
	require.NoError(t, err)

	expired := NewAuthMiddleware("test-secret")
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	stale, err := expired.IssueToken(model.Identity{AccountID: 1, Role: model.RoleApplicant})
	require.NoError(t, err)

	badRole, err := m.IssueToken(model.Identity{AccountID: 1, Role: model.Role("admin")})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token"},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage", header: "Bearer abc.def.ghi"},
		{name: "foreign signature", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + stale},
		{name: "unknown role", header: "Bearer " + badRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			m.Middleware(next).ServeHTTP(w, r)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireRole(model.RoleApplicant)(next)

	tests := []struct {
		name       string
		identity   *model.Identity
		wantStatus int
	}{
		{name: "allowed", identity: &model.Identity{AccountID: 1, Role: model.RoleApplicant}, wantStatus: http.StatusNoContent},
		{name: "wrong role", identity: &model.Identity{AccountID: 1, Role: model.RoleSupplier}, wantStatus: http.StatusForbidden},
		{name: "anonymous", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
			if tt.identity != nil {
				r = r.WithContext(WithIdentity(r.Context(), *tt.identity))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestLogger_PassesThrough(t *testing.T) {
	h := Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
