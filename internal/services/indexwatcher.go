package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/models"
)

const indexPollTimeout = 5000 * time.Millisecond

// IndexWatcher mirrors newly discovered series into the downstream index system
// as subject and experiment records. Registration is at-most-once per dequeue;
// a failed call is logged and not retried.
type IndexWatcher struct {
	queue       *Queue[models.SeriesDescriptor]
	index       IndexService
	project     string
	pollTimeout time.Duration
}

func NewIndexWatcher(queue *Queue[models.SeriesDescriptor], index IndexService, project string) *IndexWatcher {
	return &IndexWatcher{
		queue:       queue,
		index:       index,
		project:     project,
		pollTimeout: indexPollTimeout,
	}
}

func (w *IndexWatcher) Run(ctx context.Context) {
	logrus.Info("index registration watcher started")
	defer logrus.Info("index registration watcher stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		d, ok := w.queue.Poll(ctx, w.pollTimeout)
		if !ok {
			continue
		}
		guarded("index watcher", func() error { return w.register(ctx, d) })
	}
}

func (w *IndexWatcher) register(ctx context.Context, d models.SeriesDescriptor) error {
	if err := validateDescriptor(d); err != nil {
		return fmt.Errorf("rejecting series %q: %w", d.SeriesUID, err)
	}

	subject := SubjectLabel(d.PatientID)
	if err := w.index.CreateSubject(ctx, w.project, subject, d.PatientName); err != nil {
		return fmt.Errorf("creating subject %s: %w", subject, err)
	}
	experiment := ExperimentLabel(d.StudyUID)
	if err := w.index.CreateExperiment(ctx, w.project, subject, experiment, d.StudyUID); err != nil {
		return fmt.Errorf("creating experiment %s: %w", experiment, err)
	}
	logrus.Infof("registered subject %s / experiment %s", subject, experiment)
	return nil
}

func validateDescriptor(d models.SeriesDescriptor) error {
	switch {
	case d.SeriesUID == "":
		return fmt.Errorf("empty series UID")
	case d.PatientID == "":
		return fmt.Errorf("empty patient ID")
	case d.PatientName == "":
		return fmt.Errorf("empty patient name")
	}
	return nil
}

// SubjectLabel normalizes a patient identifier into an index-safe label:
// anything outside [A-Za-z0-9-] becomes an underscore.
func SubjectLabel(patientID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(patientID) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ExperimentLabel derives an experiment label from a study UID (dots are not
// legal in index labels).
func ExperimentLabel(studyUID string) string {
	return strings.ReplaceAll(studyUID, ".", "_")
}
