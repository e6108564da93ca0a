package services

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/151706061/epad-ws-sub000/models"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

type recordingForwarder struct {
	mu   sync.Mutex
	dirs []string
	err  error
}

func (f *recordingForwarder) ForwardDirectory(_ context.Context, dir string, removeAfterSend bool) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
	return nil
}

type recordingImporter struct {
	mu    sync.Mutex
	files []string
}

func (i *recordingImporter) Import(project, user, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.files = append(i.files, filepath.Base(path))
	return nil
}

func newTestUploadWatcher(root string, index IndexService, forwarder Forwarder,
	importer AnnotationImporter, reader models.DicomReader) (*UploadWatcher, *fakeStore) {
	store := newFakeStore()
	w := NewUploadWatcher(root, index, forwarder, importer, reader, store, false)
	w.stabilityInterval = 5 * time.Millisecond
	w.stabilityMaxWait = time.Second
	return w, store
}

func stageSession(t *testing.T, root string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, "session-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

const testManifest = "project=demo\nuser=alice\nsubject.id=SUBJ1\nstudy.uid=1.2.3.4\n"

func TestUploadSessionEndToEnd(t *testing.T) {
	root := t.TempDir()
	dir := stageSession(t, root, map[string]string{
		ManifestFile: testManifest,
		"img1.dcm":   "dicom-1",
		"img2.dcm":   "dicom-2",
		"roi.xml":    "<annotation/>",
	})

	index := &fakeIndex{}
	forwarder := &recordingForwarder{}
	importer := &recordingImporter{}
	w, store := newTestUploadWatcher(root, index, forwarder, importer, &fakeReader{})

	w.ProcessSession(context.Background(), dir)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("session directory must be deleted after processing")
	}
	if len(index.subjects) != 1 || index.subjects[0] != "demo/SUBJ1" {
		t.Fatalf("subjects = %v", index.subjects)
	}
	if len(index.experiments) != 1 {
		t.Fatalf("experiments = %v", index.experiments)
	}
	if len(forwarder.dirs) != 1 {
		t.Fatalf("forwarded %v, want the session once", forwarder.dirs)
	}
	if len(importer.files) != 1 || importer.files[0] != "roi.xml" {
		t.Fatalf("routed annotations = %v", importer.files)
	}
	if len(store.audits) != 1 {
		t.Fatalf("audits = %v, want one accepted record", store.audits)
	}
	audit := store.audits[0]
	if audit.actor != "alice" || audit.project != "demo" {
		t.Fatalf("audit attributed to %s/%s, want alice/demo", audit.actor, audit.project)
	}
	if !strings.Contains(audit.message, "upload accepted") {
		t.Fatalf("audit message = %q", audit.message)
	}
}

func TestUploadSessionWithZipArchive(t *testing.T) {
	root := t.TempDir()
	dir := stageSession(t, root, map[string]string{
		ManifestFile: testManifest,
	})
	writeZip(t, filepath.Join(dir, "payload.zip"), map[string]string{
		"scan/a.dcm": "dicom-a",
	})

	index := &fakeIndex{}
	forwarder := &recordingForwarder{}
	w, _ := newTestUploadWatcher(root, index, forwarder, &recordingImporter{}, &fakeReader{})

	w.ProcessSession(context.Background(), dir)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("session directory must be deleted after processing")
	}
	if len(forwarder.dirs) != 1 {
		t.Fatalf("forwarded %v, want once (the extracted dicom)", forwarder.dirs)
	}
}

func TestUploadSessionDeletedOnMissingManifest(t *testing.T) {
	root := t.TempDir()
	dir := stageSession(t, root, map[string]string{
		"img1.dcm": "dicom-1",
	})

	index := &fakeIndex{}
	forwarder := &recordingForwarder{}
	w, store := newTestUploadWatcher(root, index, forwarder, &recordingImporter{}, &fakeReader{})

	w.ProcessSession(context.Background(), dir)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("failed sessions are deleted too")
	}
	if len(forwarder.dirs) != 0 {
		t.Fatal("nothing should be forwarded without a manifest")
	}
	if len(index.subjects) != 0 {
		t.Fatal("no entities without a manifest")
	}
	if len(store.audits) != 1 || !strings.Contains(store.audits[0].message, "upload failed") {
		t.Fatalf("audits = %v, want one failure record", store.audits)
	}
}

func TestUploadScanSkipsClaimedSessions(t *testing.T) {
	root := t.TempDir()
	dir := stageSession(t, root, map[string]string{
		ManifestFile: testManifest,
		SentinelFile: "claimed",
		"img1.dcm":   "dicom-1",
	})

	forwarder := &recordingForwarder{}
	w, _ := newTestUploadWatcher(root, &fakeIndex{}, forwarder, &recordingImporter{}, &fakeReader{})

	if err := w.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatal("a claimed session must be left alone")
	}
	if len(forwarder.dirs) != 0 {
		t.Fatal("claimed session should not be forwarded")
	}
}

func TestUploadRejectsAuxiliaryFilesWhenDisallowed(t *testing.T) {
	root := t.TempDir()
	dir := stageSession(t, root, map[string]string{
		ManifestFile: testManifest,
		"img1.dcm":   "dicom-1",
		"notes.txt":  "not dicom",
	})

	forwarder := &recordingForwarder{}
	w, _ := newTestUploadWatcher(root, &fakeIndex{}, forwarder, &recordingImporter{}, &fakeReader{})

	session := &UploadSession{Dir: dir, State: UploadDiscovered}
	if err := w.runSession(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); !os.IsNotExist(err) {
		t.Fatal("auxiliary file should have been rejected and removed")
	}
	if session.State != UploadForwarded {
		t.Fatalf("state = %s, want FORWARDED", session.State)
	}
}
