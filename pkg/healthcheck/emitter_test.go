package healthcheck

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestPingSuccessGET(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewEmitter(srv.URL + "/")
	id := uuid.New()
	if err := e.Ping(context.Background(), id, "/start", ""); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if gotMethod != http.MethodGet {
		t.Fatalf("method = %s, want GET", gotMethod)
	}
	if want := "/" + id.String() + "/start"; gotPath != want {
		t.Fatalf("path = %s, want %s", gotPath, want)
	}
}

func TestPingWithBodyUsesPOST(t *testing.T) {
	var gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewEmitter(srv.URL + "/")
	if err := e.Ping(context.Background(), uuid.New(), "/fail", "boom: exit status 1"); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", gotMethod)
	}
	if gotBody != "boom: exit status 1" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestPingNonSuccessStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewEmitter(srv.URL + "/")
	if err := e.Ping(context.Background(), uuid.New(), "", ""); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestNewEmitterDefaultsBaseURL(t *testing.T) {
	e := NewEmitter("")
	if e.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %s, want %s", e.BaseURL, DefaultBaseURL)
	}
}
