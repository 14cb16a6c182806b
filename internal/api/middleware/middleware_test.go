package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestBearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := BearerAuth(string(hash), "/api/v1/health")(okHandler)

	tests := []struct {
		name       string
		method     string
		target     string
		header     string
		wantStatus int
	}{
		{"valid header", http.MethodGet, "/api/v1/positions", "Bearer s3cret-token", http.StatusOK},
		{"case insensitive scheme", http.MethodGet, "/api/v1/positions", "bearer s3cret-token", http.StatusOK},
		{"query token", http.MethodGet, "/api/v1/ws?token=s3cret-token", "", http.StatusOK},
		{"wrong token", http.MethodGet, "/api/v1/positions", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", http.MethodGet, "/api/v1/positions", "Basic s3cret-token", http.StatusUnauthorized},
		{"missing", http.MethodGet, "/api/v1/positions", "", http.StatusUnauthorized},
		{"public path", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/v1/positions", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header missing")
			}
		})
	}
}

func TestBearerAuth_DisabledWithoutHash(t *testing.T) {
	h := BearerAuth("")(okHandler)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://panel.example.com/"})(okHandler)

	tests := []struct {
		origin     string
		wantOrigin string
	}{
		{"https://panel.example.com", "https://panel.example.com"},
		{"http://localhost:5173", "http://localhost:5173"},
		{"https://evil.example.com", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
			t.Errorf("origin %q: Allow-Origin = %q, want %q", tt.origin, got, tt.wantOrigin)
		}
	}

	t.Run("wildcard", func(t *testing.T) {
		h := CORS([]string{"*"})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://anything.example.org")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Header().Get("Access-Control-Allow-Origin") != "*" || w.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Errorf("headers = %v", w.Header())
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		called := false
		h := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/settings/automation", nil))
		if called || w.Code != http.StatusOK {
			t.Errorf("called = %v, status = %d", called, w.Code)
		}
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Changed-By") {
			t.Error("X-Changed-By not allowed")
		}
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("panic value leaked to client")
	}
}

func TestLogging(t *testing.T) {
	var status int
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		if rw, ok := w.(*responseWriter); ok {
			status = rw.statusCode
		}
	}))

	t.Run("generates request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if len(w.Header().Get("X-Request-ID")) != 36 {
			t.Errorf("request id = %q", w.Header().Get("X-Request-ID"))
		}
		if status != http.StatusTeapot {
			t.Errorf("captured status = %d", status)
		}
	})

	t.Run("keeps incoming request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Header().Get("X-Request-ID") != "abc-123" {
			t.Errorf("request id = %q", w.Header().Get("X-Request-ID"))
		}
	})

	t.Run("hijack unsupported by recorder", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
		if _, _, err := rw.Hijack(); err == nil {
			t.Error("expected hijack error")
		}
	})
}
