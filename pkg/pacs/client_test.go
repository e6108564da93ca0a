package pacs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchInstanceWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wado" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("requestType") != "WADO" || q.Get("objectUID") != "i1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("dicom-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "pacs", "pw")
	dest := filepath.Join(t.TempDir(), "nested", "i1.dcm")
	if err := c.FetchInstance(context.Background(), "st", "se", "i1", dest); err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "dicom-bytes" {
		t.Fatalf("fetched %q", body)
	}
}

func TestFetchInstanceSurfacesArchiveErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such object", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "pacs", "pw")
	dest := filepath.Join(t.TempDir(), "i1.dcm")
	if err := c.FetchInstance(context.Background(), "st", "se", "i1", dest); err == nil {
		t.Fatal("404 from the archive must be an error")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("no file should be left behind on a failed fetch")
	}
}

func TestForwardDirectorySendsAndRemoves(t *testing.T) {
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/instances" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		received = append(received, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	for name, body := range map[string]string{
		"a.dcm":     "aaa",
		"b.dcm":     "bbb",
		"notes.txt": "skip me",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c := NewClient(srv.URL, "pacs", "pw")
	if err := c.ForwardDirectory(context.Background(), dir, true); err != nil {
		t.Fatal(err)
	}

	if len(received) != 2 {
		t.Fatalf("archive received %d objects, want 2", len(received))
	}
	for _, name := range []string{"a.dcm", "b.dcm"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed after sending", name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("non-DICOM files are not the forwarder's to delete")
	}
}

func TestForwardDirectoryStopsOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.dcm"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewClient(srv.URL, "pacs", "pw")
	if err := c.ForwardDirectory(context.Background(), dir, true); err == nil {
		t.Fatal("a rejected instance must fail the forward")
	}
	if _, err := os.Stat(filepath.Join(dir, "a.dcm")); err != nil {
		t.Fatal("a rejected file must not be deleted")
	}
}
