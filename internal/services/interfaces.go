package services

import (
	"context"

	"github.com/151706061/epad-ws-sub000/models"
)

// ArchiveDatabase is the read-only view of the archive's metadata store.
type ArchiveDatabase interface {
	// AllSeries lists every series the archive currently knows about.
	AllSeries(ctx context.Context) ([]models.SeriesDescriptor, error)
	// SeriesImages lists every image instance of one series.
	SeriesImages(ctx context.Context, seriesUID string) ([]models.ImageFileDescriptor, error)
}

// LocalStore is the pipeline's durable state: series markers, the artifact
// registry, and audit events.
type LocalStore interface {
	KnownSeries() (map[string]struct{}, error)
	MarkSeriesInPipeline(seriesUID, studyUID string) error

	// DoneImageUIDs reports which instances of a series already have a DONE
	// artifact-registry row. The series watcher diffs archive instances against
	// this set to find unprocessed work.
	DoneImageUIDs(seriesUID string) (map[string]struct{}, error)

	RegisterArtifact(artifact models.ArtifactFile) error
	CompleteArtifact(filePath string, size int64) error
	FailArtifact(filePath, errText string) error
	HasArtifact(filePath string) (bool, error)

	WriteAudit(actor, project, entity, message string)
}

// IndexService is the downstream subject/study bookkeeping system. Session
// handling (token cache, administrative re-login) lives inside the client.
type IndexService interface {
	CreateSubject(ctx context.Context, project, label, displayName string) error
	CreateExperiment(ctx context.Context, project, subjectLabel, label, studyUID string) error
}

// ObjectFetcher retrieves a single DICOM object from the archive into a local file.
type ObjectFetcher interface {
	FetchInstance(ctx context.Context, studyUID, seriesUID, imageUID, destPath string) error
}

// Forwarder submits a directory of DICOM files for archival ingest.
type Forwarder interface {
	ForwardDirectory(ctx context.Context, dir string, removeAfterSend bool) error
}

// AnnotationImporter receives annotation (XML) files found in upload sessions.
type AnnotationImporter interface {
	Import(project, user, path string) error
}
