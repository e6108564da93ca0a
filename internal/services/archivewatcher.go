package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/models"
)

const archivePollInterval = 500 * time.Millisecond

// ArchiveWatcher polls the archive metadata store for series the pipeline has not
// seen yet and feeds them to the rendering and index-registration watchers.
type ArchiveWatcher struct {
	archive     ArchiveDatabase
	store       LocalStore
	renderQueue *Queue[models.SeriesDescriptor]
	indexQueue  *Queue[models.SeriesDescriptor]
	interval    time.Duration
}

func NewArchiveWatcher(archive ArchiveDatabase, store LocalStore,
	renderQueue, indexQueue *Queue[models.SeriesDescriptor]) *ArchiveWatcher {
	return &ArchiveWatcher{
		archive:     archive,
		store:       store,
		renderQueue: renderQueue,
		indexQueue:  indexQueue,
		interval:    archivePollInterval,
	}
}

func (w *ArchiveWatcher) Run(ctx context.Context) {
	logrus.Info("archive watcher started")
	defer logrus.Info("archive watcher stopped")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		guarded("archive watcher", func() error { return w.pollOnce(ctx) })
	}
}

// pollOnce diffs the archive's series against the local markers. The marker row
// is written only after the descriptor reaches both queues: a dropped offer
// (queue full) leaves the series unmarked, so the next poll re-discovers it.
// At-least-once delivery; downstream registration is idempotent.
func (w *ArchiveWatcher) pollOnce(ctx context.Context) error {
	known, err := w.store.KnownSeries()
	if err != nil {
		return fmt.Errorf("reading series markers: %w", err)
	}
	all, err := w.archive.AllSeries(ctx)
	if err != nil {
		return fmt.Errorf("querying archive series: %w", err)
	}

	for _, d := range all {
		if _, seen := known[d.SeriesUID]; seen {
			continue
		}
		if !w.renderQueue.Offer(d) || !w.indexQueue.Offer(d) {
			logrus.Warnf("queue full, series %s deferred to next poll", d.SeriesUID)
			continue
		}
		if err := w.store.MarkSeriesInPipeline(d.SeriesUID, d.StudyUID); err != nil {
			logrus.Errorf("marking series %s: %v", d.SeriesUID, err)
			continue
		}
		logrus.Infof("new series %s (study %s, patient %s, %d instances)",
			d.SeriesUID, d.StudyUID, d.PatientID, d.InstanceCount)
	}
	return nil
}
