package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
)

func TestAuthenticate_Valid(t *testing.T) {
	f := newFixture(t)
	token := f.addUser(t, "u1", auth.RoleViewer)
	f.grant(t, "u1", "c1", auth.RoleViewer)

	var (
		ac        *access.AccessContext
		sessionID string
		userID    string
	)
	h := f.authn.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ = access.FromContext(r.Context())
		userID = contextkeys.GetUserID(r.Context())
		sessionID = contextkeys.GetSessionID(r.Context())
		s, ok := SessionFromContext(r)
		require.True(t, ok)
		assert.Equal(t, sessionID, s.ID)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(h, request(http.MethodGet, "/api/me", token))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, ac)
	assert.Equal(t, "u1", ac.UserID())
	assert.Equal(t, "u1", userID)
	assert.NotEmpty(t, sessionID)
	assert.True(t, ac.HasPermission("c1", auth.PermissionRead))
	assert.False(t, ac.HasCompanyAccess("c2"))
}

func TestAuthenticate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header func(t *testing.T, f *fixture) string
		code   string
	}{
		{
			name:   "missing header",
			header: func(*testing.T, *fixture) string { return "" },
			code:   httputil.CodeUnauthorized,
		},
		{
			name:   "wrong scheme",
			header: func(*testing.T, *fixture) string { return "Basic dTE6cHc=" },
			code:   httputil.CodeUnauthorized,
		},
		{
			name:   "garbage token",
			header: func(*testing.T, *fixture) string { return "Bearer not-a-jwt" },
			code:   httputil.CodeInvalidToken,
		},
		{
			name: "expired token",
			header: func(t *testing.T, f *fixture) string {
				token := f.addUser(t, "u1", auth.RoleViewer)
				f.clock.Advance(2 * time.Hour)
				return "Bearer " + token
			},
			code: httputil.CodeTokenExpired,
		},
		{
			name: "signed out session",
			header: func(t *testing.T, f *fixture) string {
				ctx := context.Background()
				token := f.addUser(t, "u1", auth.RoleViewer)
				require.NoError(t, f.service.SignOut(ctx, lastSessionID(t, f, token)))
				return "Bearer " + token
			},
			code: httputil.CodeInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := request(http.MethodGet, "/api/me", "")
			if h := tt.header(t, f); h != "" {
				req.Header.Set("Authorization", h)
			}

			rec := serve(f.authn.Authenticate(okHandler()), req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

// lastSessionID resolves the session behind an access token
func lastSessionID(t *testing.T, f *fixture, token string) string {
	t.Helper()
	var id string
	h := f.authn.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = contextkeys.GetSessionID(r.Context())
	}))
	serve(h, request(http.MethodGet, "/", token))
	require.NotEmpty(t, id)
	return id
}

func TestAuthenticate_Deactivated(t *testing.T) {
	f := newFixture(t)
	token := f.addUser(t, "u1", auth.RoleViewer)
	inactive := false
	_, err := f.store.UpdateProfile(context.Background(), "u1", auth.ProfileUpdate{IsActive: &inactive})
	require.NoError(t, err)

	rec := serve(f.authn.Authenticate(okHandler()), request(http.MethodGet, "/api/me", token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeAccountDeactivated, decodeError(t, rec).Code)

	denied := f.events.byAction(audit.ActionAccessDenied)
	require.Len(t, denied, 1)
	assert.False(t, denied[0].Success)
	assert.Equal(t, "/api/me", denied[0].Metadata["path"])
}

func TestAuthenticate_Locked(t *testing.T) {
	f := newFixture(t)
	token := f.addUser(t, "u1", auth.RoleViewer)
	_, err := f.store.RecordLoginFailure(context.Background(), "u1", 1, 30*time.Minute, f.clock.Now())
	require.NoError(t, err)

	rec := serve(f.authn.Authenticate(okHandler()), request(http.MethodGet, "/api/me", token))
	assert.Equal(t, http.StatusLocked, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, httputil.CodeAccountLocked, body.Code)
	require.NotNil(t, body.LockedUntil)
	assert.True(t, body.LockedUntil.Equal(f.clock.Now().Add(30*time.Minute)))
	assert.Len(t, f.events.byAction(audit.ActionAccessDenied), 1)
}

func TestWriteAuthError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ErrMissingToken, http.StatusUnauthorized, httputil.CodeUnauthorized},
		{auth.ErrTokenExpired, http.StatusUnauthorized, httputil.CodeTokenExpired},
		{fmt.Errorf("lookup: %w", auth.ErrInvalidToken), http.StatusUnauthorized, httputil.CodeInvalidToken},
		{auth.ErrUserNotFound, http.StatusUnauthorized, httputil.CodeUnauthorized},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, httputil.CodeInvalidCredentials},
		{auth.ErrAccountDeactivated, http.StatusForbidden, httputil.CodeAccountDeactivated},
		{auth.NewLockedError(time.Now().Add(time.Minute)), http.StatusLocked, httputil.CodeAccountLocked},
		{auth.ErrPermissionDenied, http.StatusForbidden, httputil.CodePermissionDenied},
		{auth.ErrCompanyAccessRequired, http.StatusForbidden, httputil.CodeCompanyAccessRequired},
		{errors.New("connection refused"), http.StatusInternalServerError, httputil.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAuthError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Error, "connection refused")
		})
	}
}
