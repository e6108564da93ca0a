package models

import "context"

// DicomInfo is the handful of attributes the pipeline reads from a file: the
// coordinator classifies on modality and frame count, the upload watcher falls
// back to the identity attributes when the manifest omits them.
type DicomInfo struct {
	Modality    string
	FrameCount  int
	SeriesUID   string
	StudyUID    string
	PatientID   string
	PatientName string
}

// DicomReader reads classification attributes from a DICOM file.
type DicomReader interface {
	ReadInfo(path string) (DicomInfo, error)
}

// Renderer executes the decode/encode of one generation task and returns the
// total bytes written. Its internals are a collaborator; the worker only owns
// the task contract and the registry row lifecycle.
type Renderer interface {
	Render(ctx context.Context, task GenerationTask) (int64, error)
}
