package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/models"
)

const seriesPollTimeout = 1000 * time.Millisecond

// TaskDispatcher turns a batch of unprocessed image instances into generation
// tasks. Implemented by the pipeline coordinator.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, patientName string, files []models.ImageFileDescriptor)
}

// SeriesWatcher consumes newly discovered series and drives each one to DONE by
// repeatedly diffing archive instances against the artifact registry.
type SeriesWatcher struct {
	queue       *Queue[models.SeriesDescriptor]
	tracker     *Tracker
	archive     ArchiveDatabase
	store       LocalStore
	dispatcher  TaskDispatcher
	pollTimeout time.Duration
}

func NewSeriesWatcher(queue *Queue[models.SeriesDescriptor], tracker *Tracker,
	archive ArchiveDatabase, store LocalStore, dispatcher TaskDispatcher) *SeriesWatcher {
	return &SeriesWatcher{
		queue:       queue,
		tracker:     tracker,
		archive:     archive,
		store:       store,
		dispatcher:  dispatcher,
		pollTimeout: seriesPollTimeout,
	}
}

func (w *SeriesWatcher) Run(ctx context.Context) {
	logrus.Info("series watcher started")
	defer logrus.Info("series watcher stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		// The timeout keeps the tracker re-scan running even when no new
		// series arrive.
		if d, ok := w.queue.Poll(ctx, w.pollTimeout); ok {
			if w.tracker.Add(d) {
				logrus.Infof("tracking series %s", d.SeriesUID)
			}
		}
		guarded("series watcher", func() error { return w.scanOnce(ctx) })
	}
}

// scanOnce runs the two-pass scan: discover-and-dispatch, then garbage-collect.
// The second pass exists so the backing map is never mutated mid-iteration.
func (w *SeriesWatcher) scanOnce(ctx context.Context) error {
	for _, s := range w.tracker.All() {
		if s.State == models.SeriesDone {
			continue
		}
		unprocessed, err := w.unprocessedImages(ctx, s.Descriptor.SeriesUID)
		if err != nil {
			logrus.Errorf("series %s: %v", s.Descriptor.SeriesUID, err)
			continue
		}
		if len(unprocessed) > 0 {
			w.tracker.MarkInPipeline(s.Descriptor.SeriesUID, len(unprocessed))
			w.dispatcher.Dispatch(ctx, s.Descriptor.PatientName, unprocessed)
			continue
		}
		if s.State == models.SeriesInPipeline {
			w.tracker.MarkDone(s.Descriptor.SeriesUID)
			logrus.Infof("series %s complete", s.Descriptor.SeriesUID)
		}
	}

	for _, s := range w.tracker.All() {
		if s.State == models.SeriesDone {
			w.tracker.Remove(s.Descriptor.SeriesUID)
		}
	}
	return nil
}

// unprocessedImages returns the instances that have no DONE artifact-registry
// row yet. Failed renders stay non-DONE, so they naturally reappear here on a
// later pass.
func (w *SeriesWatcher) unprocessedImages(ctx context.Context, seriesUID string) ([]models.ImageFileDescriptor, error) {
	images, err := w.archive.SeriesImages(ctx, seriesUID)
	if err != nil {
		return nil, fmt.Errorf("querying archive instances: %w", err)
	}
	done, err := w.store.DoneImageUIDs(seriesUID)
	if err != nil {
		return nil, fmt.Errorf("querying artifact registry: %w", err)
	}
	var out []models.ImageFileDescriptor
	for _, img := range images {
		if _, ok := done[img.SOPInstanceUID]; !ok {
			out = append(out, img)
		}
	}
	return out, nil
}
