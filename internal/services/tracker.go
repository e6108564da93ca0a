package services

import (
	"sync"

	"github.com/151706061/epad-ws-sub000/models"
)

// Tracker is the in-memory registry of in-flight series. The series watcher is
// the only writer; the status endpoint reads concurrent snapshots. One coarse
// mutex guards both.
type Tracker struct {
	mu     sync.Mutex
	series map[string]*models.SeriesStatus
}

func NewTracker() *Tracker {
	return &Tracker{series: make(map[string]*models.SeriesStatus)}
}

// Add registers a series if absent. Idempotent on series UID; repeated offers of
// the same descriptor never create a second entry.
func (t *Tracker) Add(d models.SeriesDescriptor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.series[d.SeriesUID]; exists {
		return false
	}
	t.series[d.SeriesUID] = models.NewSeriesStatus(d)
	return true
}

// All returns a value snapshot of every tracked series. The snapshot is safe to
// iterate while the tracker is mutated; restart by calling All again.
func (t *Tracker) All() []models.SeriesStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.SeriesStatus, 0, len(t.series))
	for _, s := range t.series {
		out = append(out, *s)
	}
	return out
}

// MarkInPipeline records that unprocessed instances remain for the series.
func (t *Tracker) MarkInPipeline(seriesUID string, unprocessed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.series[seriesUID]; ok {
		s.State = models.SeriesInPipeline
		s.Unprocessed = unprocessed
		s.Touch()
	}
}

// MarkDone transitions a series to DONE. Only valid from IN_PIPELINE; a series
// that never dispatched anything stays DISCOVERED until its first pass.
func (t *Tracker) MarkDone(seriesUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.series[seriesUID]; ok {
		s.State = models.SeriesDone
		s.Unprocessed = 0
		s.Touch()
	}
}

func (t *Tracker) Remove(seriesUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.series, seriesUID)
}

func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.series)
}
