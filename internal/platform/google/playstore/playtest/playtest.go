// Package playtest fakes the Google OAuth token endpoint and the Android Publisher API.
package playtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const AccessToken = "test-access-token"

// Server serves both the token exchange and subscription lookups.
type Server struct {
	*httptest.Server
	PrivateKeyPEM string

	TokenHits  atomic.Int32
	LookupHits atomic.Int32

	// Status and Body answer every lookup; Status 0 means 200.
	Status int
	Body   string
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	s := &Server{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		s.TokenHits.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("assertion") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": AccessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/androidpublisher/v3/applications/", func(w http.ResponseWriter, r *http.Request) {
		s.LookupHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+AccessToken || !strings.Contains(r.URL.Path, "/purchases/subscriptions/") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if s.Status != 0 {
			w.WriteHeader(s.Status)
		}
		_, _ = w.Write([]byte(s.Body))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) TokenURL() string {
	return s.URL + "/token"
}

// PermissionDeniedBody is the publisher API answer for tokens it cannot see.
const PermissionDeniedBody = `{"error":{"code":401,"message":"The current user has insufficient permissions.","status":"UNAUTHENTICATED","errors":[{"message":"insufficient permissions","domain":"androidpublisher","reason":"permissionDenied"}]}}`
