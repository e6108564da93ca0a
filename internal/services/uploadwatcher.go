package services

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/151706061/epad-ws-sub000/internal/render"
	"github.com/151706061/epad-ws-sub000/models"
)

const (
	uploadPollInterval = 5 * time.Second

	// SentinelFile marks a session directory as claimed by the watcher; the
	// scan skips directories that have one.
	SentinelFile = ".epad_processing"

	// ManifestFile is the properties file an uploader drops next to the data.
	ManifestFile = "upload.properties"

	exceptionLogFile = "upload_error.log"
)

type UploadState string

const (
	UploadDiscovered        UploadState = "DISCOVERED"
	UploadWaitingForStable  UploadState = "WAITING_FOR_STABLE_CONTENTS"
	UploadWaitingForArchive UploadState = "WAITING_FOR_ARCHIVE_STABLE"
	UploadUnzipped          UploadState = "UNZIPPED"
	UploadEntitiesCreated   UploadState = "ENTITIES_CREATED"
	UploadCleaned           UploadState = "CLEANED"
	UploadForwarded         UploadState = "FORWARDED"
	UploadDeleted           UploadState = "DELETED"
	UploadErrored           UploadState = "ERROR"
)

// UploadManifest is the parsed properties file. Project, user and session token
// are required; the identifiers are optional overrides.
type UploadManifest struct {
	Project      string
	User         string
	SessionToken string
	SubjectID    string
	StudyUID     string
	SeriesUID    string
}

// UploadSession is one subdirectory under the upload root moving through the
// state machine. The directory is deleted at the end of processing regardless
// of outcome.
type UploadSession struct {
	Dir      string
	State    UploadState
	Manifest UploadManifest
	ZipPath  string
}

// UploadWatcher polls the upload root for externally dropped studies, stabilizes
// and unpacks them, registers index entities, and forwards accepted DICOM files
// to the archive's ingest protocol.
type UploadWatcher struct {
	root        string
	index       IndexService
	forwarder   Forwarder
	annotations AnnotationImporter
	reader      models.DicomReader
	store       LocalStore
	allowAux    bool

	interval          time.Duration
	stabilityInterval time.Duration
	stabilityMaxWait  time.Duration
}

func NewUploadWatcher(root string, index IndexService, forwarder Forwarder,
	annotations AnnotationImporter, reader models.DicomReader, store LocalStore, allowAux bool) *UploadWatcher {
	return &UploadWatcher{
		root:              root,
		index:             index,
		forwarder:         forwarder,
		annotations:       annotations,
		reader:            reader,
		store:             store,
		allowAux:          allowAux,
		interval:          uploadPollInterval,
		stabilityInterval: stabilitySampleInterval,
		stabilityMaxWait:  stabilityMaxWait,
	}
}

func (w *UploadWatcher) Run(ctx context.Context) {
	logrus.Info("upload watcher started")
	defer logrus.Info("upload watcher stopped")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		guarded("upload watcher", func() error { return w.scanOnce(ctx) })
	}
}

func (w *UploadWatcher) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("reading upload root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, SentinelFile)); err == nil {
			continue
		}
		w.ProcessSession(ctx, dir)
	}
	return nil
}

// ProcessSession drives one session through the state machine. Whatever happens,
// the directory is gone afterwards.
func (w *UploadWatcher) ProcessSession(ctx context.Context, dir string) {
	session := &UploadSession{Dir: dir, State: UploadDiscovered}
	logrus.Infof("upload session discovered: %s", dir)

	if err := os.WriteFile(filepath.Join(dir, SentinelFile), []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		logrus.Errorf("writing sentinel in %s: %v", dir, err)
	}

	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logrus.Errorf("removing session directory %s: %v", dir, err)
			return
		}
		session.State = UploadDeleted
		logrus.Infof("upload session removed: %s", dir)
	}()

	if err := w.runSession(ctx, session); err != nil {
		session.State = UploadErrored
		logrus.Errorf("upload session %s failed: %v", dir, err)
		w.writeExceptionLog(dir, err)
		w.store.WriteAudit(session.Manifest.User, session.Manifest.Project, dir,
			"upload failed: "+err.Error())
	}
}

func (w *UploadWatcher) runSession(ctx context.Context, session *UploadSession) error {
	session.State = UploadWaitingForStable
	if err := waitForStableDir(ctx, session.Dir, w.stabilityInterval, w.stabilityMaxWait); err != nil {
		return fmt.Errorf("waiting for stable contents: %w", err)
	}

	if zipPath := findArchive(session.Dir); zipPath != "" {
		session.ZipPath = zipPath
		session.State = UploadWaitingForArchive
		if err := waitForStableFile(ctx, zipPath, w.stabilityInterval, w.stabilityMaxWait); err != nil {
			return fmt.Errorf("waiting for stable archive: %w", err)
		}
		if err := unzipInto(zipPath, session.Dir); err != nil {
			return fmt.Errorf("unpacking %s: %w", filepath.Base(zipPath), err)
		}
		session.State = UploadUnzipped
	}

	manifest, err := readManifest(filepath.Join(session.Dir, ManifestFile))
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	session.Manifest = manifest

	dicoms, annotations, err := w.classifyFiles(session)
	if err != nil {
		return err
	}
	if err := w.createEntities(ctx, session, dicoms); err != nil {
		return err
	}
	session.State = UploadEntitiesCreated

	for _, path := range annotations {
		if err := w.annotations.Import(manifest.Project, manifest.User, path); err != nil {
			logrus.Errorf("importing annotation %s: %v", path, err)
		}
		if err := os.Remove(path); err != nil {
			logrus.Errorf("removing routed annotation %s: %v", path, err)
		}
	}

	if err := w.deleteHousekeeping(session); err != nil {
		return err
	}
	session.State = UploadCleaned

	if len(dicoms) > 0 {
		if err := w.forwarder.ForwardDirectory(ctx, session.Dir, true); err != nil {
			return fmt.Errorf("forwarding to archive: %w", err)
		}
	}
	session.State = UploadForwarded

	w.store.WriteAudit(manifest.User, manifest.Project, session.Dir,
		fmt.Sprintf("upload accepted: %d dicom files, %d annotations", len(dicoms), len(annotations)))
	return nil
}

// classifyFiles walks the session recursively. DICOM files stay for forwarding,
// XML goes to the annotation importer, anything else is auxiliary (kept when
// allowed) or rejected and deleted on the spot.
func (w *UploadWatcher) classifyFiles(session *UploadSession) (dicoms, annotations []string, err error) {
	err = filepath.WalkDir(session.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isHousekeeping(session, path) {
			return nil
		}
		switch {
		case render.LooksLikeDICOM(path):
			dicoms = append(dicoms, path)
		case strings.EqualFold(filepath.Ext(path), ".xml"):
			annotations = append(annotations, path)
		case w.allowAux:
			logrus.Debugf("keeping auxiliary file %s", path)
		default:
			logrus.Warnf("rejecting %s", path)
			return os.Remove(path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("classifying session files: %w", err)
	}
	return dicoms, annotations, nil
}

// createEntities ensures the index has subject and experiment records for the
// session. Identifiers come from the manifest when present, else from the first
// DICOM file's own attributes.
func (w *UploadWatcher) createEntities(ctx context.Context, session *UploadSession, dicoms []string) error {
	if len(dicoms) == 0 {
		return nil
	}
	m := session.Manifest
	subject := m.SubjectID
	studyUID := m.StudyUID
	displayName := subject
	if subject == "" || studyUID == "" {
		info, err := w.reader.ReadInfo(dicoms[0])
		if err != nil {
			return fmt.Errorf("reading %s for entity creation: %w", dicoms[0], err)
		}
		if subject == "" {
			subject = SubjectLabel(info.PatientID)
			displayName = info.PatientName
		}
		if studyUID == "" {
			studyUID = info.StudyUID
		}
	}
	if subject == "" || studyUID == "" {
		return fmt.Errorf("no subject/study identity in manifest or files")
	}
	if err := w.index.CreateSubject(ctx, m.Project, subject, displayName); err != nil {
		return fmt.Errorf("creating subject %s: %w", subject, err)
	}
	if err := w.index.CreateExperiment(ctx, m.Project, subject, ExperimentLabel(studyUID), studyUID); err != nil {
		return fmt.Errorf("creating experiment for study %s: %w", studyUID, err)
	}
	return nil
}

// deleteHousekeeping drops the manifest, sentinel, archive, logs and side-channel
// JSON before forwarding, so only payload reaches the archive.
func (w *UploadWatcher) deleteHousekeeping(session *UploadSession) error {
	return filepath.WalkDir(session.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isHousekeeping(session, path) {
			return nil
		}
		return os.Remove(path)
	})
}

func isHousekeeping(session *UploadSession, path string) bool {
	base := filepath.Base(path)
	if base == SentinelFile || base == ManifestFile || base == exceptionLogFile {
		return true
	}
	if session.ZipPath != "" && path == session.ZipPath {
		return true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".log", ".json":
		return true
	}
	return false
}

func findArchive(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

func readManifest(path string) (UploadManifest, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return UploadManifest{}, err
	}
	sec := cfg.Section("")
	m := UploadManifest{
		Project:      sec.Key("project").String(),
		User:         sec.Key("user").String(),
		SessionToken: sec.Key("session.token").String(),
		SubjectID:    sec.Key("subject.id").String(),
		StudyUID:     sec.Key("study.uid").String(),
		SeriesUID:    sec.Key("series.uid").String(),
	}
	if m.Project == "" || m.User == "" {
		return UploadManifest{}, fmt.Errorf("manifest missing required project/user keys")
	}
	return m, nil
}

func (w *UploadWatcher) writeExceptionLog(dir string, failure error) {
	body := fmt.Sprintf("upload processing failed at %s\n\n%v\n",
		time.Now().Format(time.RFC3339), failure)
	if err := os.WriteFile(filepath.Join(dir, exceptionLogFile), []byte(body), 0o644); err != nil {
		logrus.Errorf("writing exception log in %s: %v", dir, err)
	}
}
