package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewStore(nil, make([]byte, 32), make([]byte, 32))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.SetSession(rec, req, 42))

	authed := httptest.NewRequest(http.MethodGet, "/", nil)
	authed.Header.Set("Cookie", rec.Header().Get("Set-Cookie"))

	var gotID int64
	handler := s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = OwnerIDFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), authed)
	assert.Equal(t, int64(42), gotID)
}

func TestRequireAuthRejectsForgedCookie(t *testing.T) {
	s := NewStore(nil, make([]byte, 32), make([]byte, 32))
	other := NewStore(nil,
		[]byte("fedcba9876543210fedcba9876543210"),
		[]byte("0123456789abcdef0123456789abcdef"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, other.SetSession(rec, req, 42))

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.Header.Set("Cookie", rec.Header().Get("Set-Cookie"))

	res := httptest.NewRecorder()
	s.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("forged session accepted")
	})).ServeHTTP(res, forged)
	assert.Equal(t, http.StatusFound, res.Code)
}

func TestClearSession(t *testing.T) {
	s := NewStore(nil, make([]byte, 32), make([]byte, 32))
	rec := httptest.NewRecorder()
	s.ClearSession(rec)

	cookie := rec.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, cookieName+"=")
	assert.Contains(t, cookie, "Max-Age=0")
}
