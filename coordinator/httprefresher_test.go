package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPRefresherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"x","refreshToken":"y","expiresIn":1800}`))
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.Client(), srv.URL+"/auth/refresh")
	expiresIn, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if expiresIn != 1800*time.Second {
		t.Fatalf("expiresIn = %v, want 30m", expiresIn)
	}
}

func TestHTTPRefresherRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.Client(), srv.URL+"/auth/refresh")
	if _, err := r.Refresh(context.Background()); !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("err = %v, want ErrRefreshRejected", err)
	}
}

func TestHTTPRefresherBadExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expiresIn":0}`))
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.Client(), srv.URL+"/auth/refresh")
	if _, err := r.Refresh(context.Background()); !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("err = %v, want ErrRefreshRejected", err)
	}
}
