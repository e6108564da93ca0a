package models

import (
	"time"
)

type ArtifactStatus string

const (
	ArtifactInPipeline ArtifactStatus = "IN_PIPELINE"
	ArtifactDone       ArtifactStatus = "DONE"
)

// ProcessedSeries marks a series as known to the pipeline. The archive watcher
// diffs the archive's series list against these rows to find new work.
type ProcessedSeries struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SeriesUID string    `gorm:"uniqueIndex;not null" json:"series_uid"`
	StudyUID  string    `gorm:"index" json:"study_uid"`
	Status    string    `gorm:"type:varchar(20);default:'IN_PIPELINE'" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactFile is one artifact-registry row, keyed by output file path. It is the
// durable record of one generated preview and the cross-thread source of truth for
// "is this image rendered yet".
type ArtifactFile struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	FilePath  string         `gorm:"uniqueIndex;not null" json:"file_path"`
	SeriesUID string         `gorm:"index" json:"series_uid"`
	ImageUID  string         `gorm:"index" json:"image_uid"`
	Status    ArtifactStatus `gorm:"type:varchar(20);default:'IN_PIPELINE'" json:"status"`
	FileSize  int64          `json:"file_size"`
	ErrText   string         `gorm:"type:text" json:"err_text,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AuditEvent records a user-visible outcome (upload accepted, session failed, render
// error). The pipeline runs detached from any request cycle, so these rows are how
// failures surface.
type AuditEvent struct {
	ID        string    `gorm:"primaryKey;type:varchar(40)" json:"id"`
	Actor     string    `gorm:"index" json:"actor"`
	Project   string    `json:"project"`
	Entity    string    `json:"entity"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
