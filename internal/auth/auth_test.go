package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	return NewService(Config{
		JWTSecret: "test-signing-key",
		Clients:   map[string]string{"agent": hash},
	})
}

func TestIssueToken(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  error
	}{
		{"valid", "agent", "s3cret", nil},
		{"wrong secret", "agent", "nope", ErrInvalidCredentials},
		{"unknown client", "other", "s3cret", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := svc.IssueToken(tt.clientID, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("IssueToken() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if tok.TokenType != "Bearer" || tok.ExpiresIn != 3600 {
				t.Errorf("token = %+v", tok)
			}
			claims, err := svc.ValidateToken(tok.AccessToken)
			if err != nil {
				t.Fatalf("ValidateToken: %v", err)
			}
			if claims.ClientID != "agent" || claims.Issuer != "vaultmcp" {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.IssueToken("agent", "s3cret")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	other := NewService(Config{JWTSecret: "different"})
	if _, err := other.ValidateToken(tok.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign key: error = %v, want ErrInvalidToken", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ValidateToken(tok.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired: error = %v, want ErrTokenExpired", err)
	}

	if _, err := svc.ValidateToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: error = %v, want ErrInvalidToken", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.IssueToken("agent", "s3cret")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	var seen string
	h := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := ClientFromContext(r.Context()); ok {
			seen = c.ClientID
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + tok.AccessToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seen != "agent" {
		t.Errorf("client in context = %q, want agent", seen)
	}
}
