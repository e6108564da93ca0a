package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/151706061/epad-ws-sub000/models"
)

type auditEntry struct {
	actor   string
	project string
	entity  string
	message string
}

// fakeStore is an in-memory LocalStore for watcher tests.
type fakeStore struct {
	mu        sync.Mutex
	series    map[string]string
	artifacts map[string]models.ArtifactFile
	audits    []auditEntry

	registerErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		series:    make(map[string]string),
		artifacts: make(map[string]models.ArtifactFile),
	}
}

func (s *fakeStore) KnownSeries() (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]struct{}, len(s.series))
	for uid := range s.series {
		known[uid] = struct{}{}
	}
	return known, nil
}

func (s *fakeStore) MarkSeriesInPipeline(seriesUID, studyUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[seriesUID] = studyUID
	return nil
}

func (s *fakeStore) DoneImageUIDs(seriesUID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[string]struct{})
	for _, a := range s.artifacts {
		if a.SeriesUID == seriesUID && a.Status == models.ArtifactDone && a.ImageUID != "" {
			done[a.ImageUID] = struct{}{}
		}
	}
	return done, nil
}

func (s *fakeStore) RegisterArtifact(artifact models.ArtifactFile) error {
	if s.registerErr != nil {
		return s.registerErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.FilePath] = artifact
	return nil
}

func (s *fakeStore) CompleteArtifact(filePath string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[filePath]
	if !ok {
		return fmt.Errorf("no artifact row for %s", filePath)
	}
	a.Status = models.ArtifactDone
	a.FileSize = size
	s.artifacts[filePath] = a
	return nil
}

func (s *fakeStore) FailArtifact(filePath, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[filePath]
	if !ok {
		return fmt.Errorf("no artifact row for %s", filePath)
	}
	a.Status = models.ArtifactInPipeline
	a.ErrText = errText
	s.artifacts[filePath] = a
	return nil
}

func (s *fakeStore) HasArtifact(filePath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[filePath]
	return ok && a.Status == models.ArtifactDone, nil
}

func (s *fakeStore) WriteAudit(actor, project, entity, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, auditEntry{actor: actor, project: project, entity: entity, message: message})
}

func (s *fakeStore) artifact(filePath string) (models.ArtifactFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[filePath]
	return a, ok
}

// fakeArchive serves canned series and instance lists.
type fakeArchive struct {
	mu     sync.Mutex
	series []models.SeriesDescriptor
	images map[string][]models.ImageFileDescriptor
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{images: make(map[string][]models.ImageFileDescriptor)}
}

func (a *fakeArchive) AllSeries(context.Context) ([]models.SeriesDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.SeriesDescriptor(nil), a.series...), nil
}

func (a *fakeArchive) SeriesImages(_ context.Context, seriesUID string) ([]models.ImageFileDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ImageFileDescriptor(nil), a.images[seriesUID]...), nil
}

// fakeIndex records registrations and can be told to fail.
type fakeIndex struct {
	mu          sync.Mutex
	subjects    []string
	experiments []string
	subjectErr  error
}

func (f *fakeIndex) CreateSubject(_ context.Context, project, label, displayName string) error {
	if f.subjectErr != nil {
		return f.subjectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, project+"/"+label)
	return nil
}

func (f *fakeIndex) CreateExperiment(_ context.Context, project, subjectLabel, label, studyUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.experiments = append(f.experiments, project+"/"+subjectLabel+"/"+label)
	return nil
}

// fakeReader returns canned attributes per path.
type fakeReader struct {
	infos map[string]models.DicomInfo
}

func (r *fakeReader) ReadInfo(path string) (models.DicomInfo, error) {
	info, ok := r.infos[path]
	if !ok {
		return models.DicomInfo{}, fmt.Errorf("unreadable file %s", path)
	}
	return info, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	err     error
}

func (f *fakeFetcher) FetchInstance(_ context.Context, studyUID, seriesUID, imageUID, destPath string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, imageUID)
	return nil
}
