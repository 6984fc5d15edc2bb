package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	h := NewHandler(NewAccounts(), NewTokenService("test-secret", time.Hour), zap.NewNop())
	r := chi.NewRouter()
	h.Routes(r)
	return h, r
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRegisterIssuesToken(t *testing.T) {
	h, router := newTestHandler(t)

	rec := postJSON(t, router, "/register", registerRequest{
		Name: "alice", Email: "alice@example.com", Password: "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Name)

	id, err := h.tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User, id)
}

func TestRegisterValidation(t *testing.T) {
	_, router := newTestHandler(t)

	rec := postJSON(t, router, "/register", registerRequest{Email: "a@b.c"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	_, router := newTestHandler(t)

	req := registerRequest{Name: "alice", Email: "alice@example.com", Password: "pw"}
	require.Equal(t, http.StatusOK, postJSON(t, router, "/register", req).Code)
	assert.Equal(t, http.StatusConflict, postJSON(t, router, "/register", req).Code)
}

func TestLoginRoundTrip(t *testing.T) {
	_, router := newTestHandler(t)

	postJSON(t, router, "/register", registerRequest{
		Name: "alice", Email: "alice@example.com", Password: "hunter22",
	})

	rec := postJSON(t, router, "/login", loginRequest{Email: "alice@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/login", loginRequest{Email: "alice@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	_, router := newTestHandler(t)

	rec := postJSON(t, router, "/register", registerRequest{
		Name: "alice", Email: "alice@example.com", Password: "hunter22",
	})
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var verified struct {
		User Identity `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.Equal(t, resp.User, verified.User)

	// Missing token.
	req = httptest.NewRequest(http.MethodGet, "/verify", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token.
	req = httptest.NewRequest(http.MethodGet, "/verify", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
