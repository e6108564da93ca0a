package pacs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/151706061/epad-ws-sub000/internal/services"
	"github.com/151706061/epad-ws-sub000/models"
)

// MetadataDB reads series and instance metadata straight from the archive's
// relational store. The schema follows the dcm4chee layout: series rows join
// studies and patients, instance rows carry the stored file reference.
type MetadataDB struct {
	db *sql.DB
}

func NewMetadataDB(db *sql.DB) *MetadataDB {
	return &MetadataDB{db: db}
}

const allSeriesQuery = `
SELECT s.series_iuid, st.study_iuid, p.pat_id, p.pat_name, s.num_instances
FROM series s
JOIN study st ON s.study_fk = st.pk
JOIN patient p ON st.patient_fk = p.pk
WHERE s.num_instances > 0`

func (m *MetadataDB) AllSeries(ctx context.Context) ([]models.SeriesDescriptor, error) {
	rows, err := m.db.QueryContext(ctx, allSeriesQuery)
	if err != nil {
		return nil, fmt.Errorf("querying archive series: %w", err)
	}
	defer rows.Close()

	var out []models.SeriesDescriptor
	for rows.Next() {
		var d models.SeriesDescriptor
		var patientID, patientName sql.NullString
		if err := rows.Scan(&d.SeriesUID, &d.StudyUID, &patientID, &patientName, &d.InstanceCount); err != nil {
			return nil, fmt.Errorf("scanning series row: %w", err)
		}
		d.PatientID = patientID.String
		d.PatientName = patientName.String
		out = append(out, d)
	}
	return out, rows.Err()
}

const seriesImagesQuery = `
SELECT i.sop_iuid, i.inst_no, f.filepath, f.file_size, i.created_time, st.study_iuid
FROM instance i
JOIN files f ON f.instance_fk = i.pk
JOIN series s ON i.series_fk = s.pk
JOIN study st ON s.study_fk = st.pk
WHERE s.series_iuid = ?`

func (m *MetadataDB) SeriesImages(ctx context.Context, seriesUID string) ([]models.ImageFileDescriptor, error) {
	rows, err := m.db.QueryContext(ctx, seriesImagesQuery, seriesUID)
	if err != nil {
		return nil, fmt.Errorf("querying instances of %s: %w", seriesUID, err)
	}
	defer rows.Close()

	var out []models.ImageFileDescriptor
	for rows.Next() {
		d := models.ImageFileDescriptor{SeriesUID: seriesUID}
		var instNo sql.NullInt64
		if err := rows.Scan(&d.SOPInstanceUID, &instNo, &d.FilePath, &d.FileSize, &d.CreatedTime, &d.StudyUID); err != nil {
			return nil, fmt.Errorf("scanning instance row: %w", err)
		}
		d.InstanceNumber = int(instNo.Int64)
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ services.ArchiveDatabase = (*MetadataDB)(nil)
