package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/audit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"valid", "s3cret", "Bearer s3cret", http.StatusOK},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"wrong token", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			recorder := httptest.NewRecorder()

			RequireToken(tt.token)(okHandler()).ServeHTTP(recorder, req)

			if recorder.Code != tt.want {
				t.Errorf("status = %d, want %d", recorder.Code, tt.want)
			}
		})
	}
}

func TestWithActor(t *testing.T) {
	var got string
	handler := WithActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = audit.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set(ActorHeader, " lecturer-7 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "lecturer-7" {
		t.Errorf("actor = %q, want lecturer-7", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != audit.SystemActor {
		t.Errorf("actor = %q, want %q", got, audit.SystemActor)
	}
}
