package recordapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolshare/lending"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRepo is an in-memory UserRepository.
type fakeRepo struct {
	mu    sync.Mutex
	users []lending.UserRecord
	err   error
}

func (f *fakeRepo) ListUsers(ctx context.Context) ([]lending.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]lending.UserRecord{}, f.users...), nil
}

func (f *fakeRepo) CreateUser(ctx context.Context, name, email string) (lending.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return lending.UserRecord{}, f.err
	}
	for _, u := range f.users {
		if u.Email == email {
			return lending.UserRecord{}, lending.ErrEmailExists
		}
	}
	u := lending.UserRecord{ID: "id-" + name, Name: name, Email: email}
	f.users = append(f.users, u)
	return u, nil
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleListUsers(t *testing.T) {
	repo := &fakeRepo{users: []lending.UserRecord{{ID: "1", Name: "Jane Smith", Email: "jane@example.com"}}}
	router := NewRouter(repo, nil)

	w := doRequest(t, router, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []lending.UserRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, repo.users, got)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleListUsersEmptyIsArray(t *testing.T) {
	w := doRequest(t, NewRouter(&fakeRepo{}, nil), http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHandleCreateUser(t *testing.T) {
	tests := []struct {
		name     string
		repo     *fakeRepo
		body     string
		wantCode int
	}{
		{"created", &fakeRepo{}, `{"name":"Ada","email":"ada@example.com"}`, http.StatusOK},
		{"missing name", &fakeRepo{}, `{"email":"ada@example.com"}`, http.StatusBadRequest},
		{"bad email", &fakeRepo{}, `{"name":"Ada","email":"nope"}`, http.StatusBadRequest},
		{"malformed json", &fakeRepo{}, `{"name":`, http.StatusBadRequest},
		{"duplicate", &fakeRepo{users: []lending.UserRecord{{ID: "1", Name: "Ada", Email: "ada@example.com"}}},
			`{"name":"Ada","email":"ada@example.com"}`, http.StatusConflict},
		{"storage failure", &fakeRepo{err: errors.New("database is locked")},
			`{"name":"Ada","email":"ada@example.com"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, NewRouter(tt.repo, nil), http.MethodPost, "/api/users", tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			if tt.wantCode == http.StatusOK {
				var u lending.UserRecord
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
				assert.Equal(t, "Ada", u.Name)
				assert.Equal(t, "ada@example.com", u.Email)
				return
			}
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	NewRouter(&fakeRepo{}, nil).ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := NewRouter(&fakeRepo{}, reg)

	doRequest(t, router, http.MethodGet, "/api/users", "")
	doRequest(t, router, http.MethodPost, "/api/users", `{}`)

	w := doRequest(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `toolshare_record_api_requests_total{code="200",route="/api/users"} 1`)
	assert.Contains(t, body, `toolshare_record_api_requests_total{code="400",route="/api/users"} 1`)
	assert.Contains(t, body, "toolshare_record_api_request_duration_seconds")
}

func TestNoMetricsRouteWithoutRegistry(t *testing.T) {
	w := doRequest(t, NewRouter(&fakeRepo{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
