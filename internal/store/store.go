package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/151706061/epad-ws-sub000/internal/services"
	"github.com/151706061/epad-ws-sub000/models"
)

// GormStore implements services.LocalStore on the postgres store.
type GormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the pipeline tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ProcessedSeries{},
		&models.ArtifactFile{},
		&models.AuditEvent{},
	)
}

func (s *GormStore) KnownSeries() (map[string]struct{}, error) {
	var uids []string
	if err := s.db.Model(&models.ProcessedSeries{}).Pluck("series_uid", &uids).Error; err != nil {
		return nil, fmt.Errorf("listing known series: %w", err)
	}
	known := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		known[uid] = struct{}{}
	}
	return known, nil
}

func (s *GormStore) MarkSeriesInPipeline(seriesUID, studyUID string) error {
	row := models.ProcessedSeries{
		SeriesUID: seriesUID,
		StudyUID:  studyUID,
		Status:    string(models.ArtifactInPipeline),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "series_uid"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("marking series %s: %w", seriesUID, err)
	}
	return nil
}

// DoneImageUIDs ignores rows with an empty image UID. Secondary artifacts (grid
// previews, annotation sidecars) register that way so they never make an
// instance look processed.
func (s *GormStore) DoneImageUIDs(seriesUID string) (map[string]struct{}, error) {
	var uids []string
	err := s.db.Model(&models.ArtifactFile{}).
		Distinct("image_uid").
		Where("series_uid = ? AND status = ? AND image_uid <> ''", seriesUID, models.ArtifactDone).
		Pluck("image_uid", &uids).Error
	if err != nil {
		return nil, fmt.Errorf("listing done images for %s: %w", seriesUID, err)
	}
	done := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		done[uid] = struct{}{}
	}
	return done, nil
}

func (s *GormStore) RegisterArtifact(artifact models.ArtifactFile) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"series_uid", "image_uid", "status", "err_text", "updated_at",
		}),
	}).Create(&artifact).Error
	if err != nil {
		return fmt.Errorf("registering artifact %s: %w", artifact.FilePath, err)
	}
	return nil
}

func (s *GormStore) CompleteArtifact(filePath string, size int64) error {
	err := s.db.Model(&models.ArtifactFile{}).
		Where("file_path = ?", filePath).
		Updates(map[string]any{
			"status":    models.ArtifactDone,
			"file_size": size,
			"err_text":  "",
		}).Error
	if err != nil {
		return fmt.Errorf("completing artifact %s: %w", filePath, err)
	}
	return nil
}

func (s *GormStore) FailArtifact(filePath, errText string) error {
	err := s.db.Model(&models.ArtifactFile{}).
		Where("file_path = ?", filePath).
		Updates(map[string]any{
			"status":   models.ArtifactInPipeline,
			"err_text": errText,
		}).Error
	if err != nil {
		return fmt.Errorf("recording artifact failure %s: %w", filePath, err)
	}
	return nil
}

func (s *GormStore) HasArtifact(filePath string) (bool, error) {
	var count int64
	err := s.db.Model(&models.ArtifactFile{}).
		Where("file_path = ? AND status = ?", filePath, models.ArtifactDone).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking artifact %s: %w", filePath, err)
	}
	return count > 0, nil
}

// WriteAudit is best-effort; a failed audit insert must never fail the pipeline
// step that produced it.
func (s *GormStore) WriteAudit(actor, project, entity, message string) {
	row := models.AuditEvent{
		ID:      uuid.NewString(),
		Actor:   actor,
		Project: project,
		Entity:  entity,
		Message: message,
	}
	if err := s.db.Create(&row).Error; err != nil {
		logrus.Errorf("writing audit event: %v", err)
	}
}

var _ services.LocalStore = (*GormStore)(nil)
