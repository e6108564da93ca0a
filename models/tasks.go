package models

type TaskKind string

const (
	TaskSingleFrame      TaskKind = "single_frame"
	TaskMultiFrame       TaskKind = "multi_frame"
	TaskSegmentationMask TaskKind = "segmentation_mask"
	TaskGrid             TaskKind = "grid"
)

// GenerationTask is one unit of rendering work. It is a tagged union: Kind selects
// the variant and the worker dispatches on it. Consumed exactly once.
type GenerationTask struct {
	Kind       TaskKind
	SeriesUID  string
	StudyUID   string
	ImageUID   string
	SourcePath string // absolute path to the DICOM file (local or fetched copy)

	// OutputPath is the artifact-registry key: the image PNG for single-frame
	// tasks, the frames/ directory for multi-frame, the masks/ directory for
	// segmentation objects, the grid PNG for grid tasks.
	OutputPath string

	FrameCount int

	// AnnotationPath: segmentation objects only. Set for the first burst of a
	// DSO delivery, naming where the textual annotation sidecar goes; empty on
	// later bursts, which are masks-only.
	AnnotationPath string
}
