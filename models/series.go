package models

import "time"

// SeriesDescriptor identifies a newly discovered archive series. Queued by value;
// never mutated after creation.
type SeriesDescriptor struct {
	SeriesUID     string
	StudyUID      string
	PatientID     string
	PatientName   string
	InstanceCount int
}

type SeriesState string

const (
	SeriesDiscovered SeriesState = "DISCOVERED"
	SeriesInPipeline SeriesState = "IN_PIPELINE"
	SeriesDone       SeriesState = "DONE"
)

// SeriesStatus tracks one in-flight series. Owned by the series watcher; other
// goroutines only see snapshot copies taken through the tracker.
type SeriesStatus struct {
	Descriptor   SeriesDescriptor
	State        SeriesState
	LastActivity time.Time
	Unprocessed  int
}

func NewSeriesStatus(d SeriesDescriptor) *SeriesStatus {
	return &SeriesStatus{
		Descriptor:   d,
		State:        SeriesDiscovered,
		LastActivity: time.Now(),
		Unprocessed:  d.InstanceCount,
	}
}

// CompletionRatio is (total - unprocessed) / total, in [0, 1]. A series with an
// unknown instance count reports 0 until its first pass completes.
func (s *SeriesStatus) CompletionRatio() float64 {
	total := s.Descriptor.InstanceCount
	if total <= 0 {
		if s.State == SeriesDone {
			return 1
		}
		return 0
	}
	done := total - s.Unprocessed
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	return float64(done) / float64(total)
}

func (s *SeriesStatus) Touch() {
	s.LastActivity = time.Now()
}

// ImageFileDescriptor is one archived instance awaiting rendering, as reported by
// the archive metadata store.
type ImageFileDescriptor struct {
	SeriesUID      string
	StudyUID       string
	SOPInstanceUID string
	InstanceNumber int
	FilePath       string // relative to the archive file root
	FileSize       int64
	CreatedTime    time.Time
}
