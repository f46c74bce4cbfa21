package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tasknest/tasknest/internal/api/middleware"
)

// echoUser records the user id the middleware put in context.
func echoUser(captured *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = middleware.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuth_Disabled_DevHeader(t *testing.T) {
	auth := middleware.NewBearerAuth("")
	if auth.Enabled() {
		t.Fatal("Enabled() = true with no tokens configured")
	}

	var user string
	handler := auth.Middleware(echoUser(&user))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if user != "alice" {
		t.Errorf("user id = %q, want alice", user)
	}

	// No header at all falls back to the default dev identity.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if user != "default" {
		t.Errorf("user id = %q, want default", user)
	}
}

func TestBearerAuth_TokenMapping(t *testing.T) {
	auth := middleware.NewBearerAuth("s3cret=alice, topsecret=bob, malformed")
	if !auth.Enabled() {
		t.Fatal("Enabled() = false with tokens configured")
	}

	var user string
	handler := auth.Middleware(echoUser(&user))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if user != "bob" {
		t.Errorf("user id = %q, want bob", user)
	}
}

func TestBearerAuth_RejectsBadToken(t *testing.T) {
	auth := middleware.NewBearerAuth("s3cret=alice")

	var user string
	handler := auth.Middleware(echoUser(&user))

	for _, header := range []string{"", "Bearer wrong", "Basic s3cret"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status = %d, want 401", header, rec.Code)
		}
	}

	// The X-User-ID escape hatch must not work when auth is enabled.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("X-User-ID with auth enabled: status = %d, want 401", rec.Code)
	}
}

func TestBearerAuth_PublicPaths(t *testing.T) {
	auth := middleware.NewBearerAuth("s3cret=alice")

	var user string
	handler := auth.Middleware(echoUser(&user))

	for _, path := range []string{"/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("GET %s without auth: status = %d, want 200", path, rec.Code)
		}
	}
}
