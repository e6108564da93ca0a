package xnat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestServer(t *testing.T, logins *int32, puts *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/data/JSESSION":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "admin" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			atomic.AddInt32(logins, 1)
			w.Write([]byte("SESSION123"))
		case r.Method == http.MethodPut:
			cookie, err := r.Cookie("JSESSIONID")
			if err != nil || cookie.Value != "SESSION123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			*puts = append(*puts, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClientLogsInOnceAndReusesSession(t *testing.T) {
	var logins int32
	var puts []string
	srv := newTestServer(t, &logins, &puts)
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	ctx := context.Background()

	if err := c.CreateSubject(ctx, "demo", "SUBJ1", "Doe"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateExperiment(ctx, "demo", "SUBJ1", "1_2_3", "1.2.3"); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&logins); got != 1 {
		t.Fatalf("logged in %d times, want 1", got)
	}
	if len(puts) != 2 {
		t.Fatalf("puts = %v, want subject then experiment", puts)
	}
	if puts[0] != "/data/projects/demo/subjects/SUBJ1" {
		t.Fatalf("subject path = %s", puts[0])
	}
	if puts[1] != "/data/projects/demo/subjects/SUBJ1/experiments/1_2_3" {
		t.Fatalf("experiment path = %s", puts[1])
	}
}

func TestClientTreatsConflictAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte("S"))
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	if err := c.CreateSubject(context.Background(), "demo", "SUBJ1", ""); err != nil {
		t.Fatalf("conflict (already exists) should not be an error: %v", err)
	}
}

func TestClientDropsSessionOnRejection(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&logins, 1)
			w.Write([]byte("S"))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	if err := c.CreateSubject(context.Background(), "demo", "SUBJ1", ""); err == nil {
		t.Fatal("rejected session must surface an error")
	}
	// Next call re-logs-in instead of reusing the dead session.
	c.CreateSubject(context.Background(), "demo", "SUBJ1", "")
	if got := atomic.LoadInt32(&logins); got != 2 {
		t.Fatalf("logged in %d times, want 2 after a rejected session", got)
	}
}
