package config

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DB is the local persistent store (series markers, artifact registry, audit events).
var DB *gorm.DB

// Settings carries everything the pipeline needs from the environment.
type Settings struct {
	HTTPPort string

	// Local store (postgres) and archive metadata store (mysql, read-only).
	LocalDSN   string
	ArchiveDSN string

	// Archive REST endpoint (fetch + forward), basic auth.
	ArchiveURL  string
	ArchiveUser string
	ArchivePass string

	// Index system (XNAT-equivalent).
	IndexURL       string
	IndexAdminUser string
	IndexAdminPass string
	IndexProject   string

	// Filesystem layout.
	ArchiveFileRoot string // where the archive keeps DICOM files, relative paths resolve here
	ArtifactRoot    string // rendered PNG output root ({root}/studies/...)
	UploadRoot      string // upload drop directory
	AnnotationDir   string // where routed annotation files land

	AllowAuxiliaryFiles bool
}

func Load() Settings {
	_ = godotenv.Load()

	if lvl, err := logrus.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info")); err == nil {
		logrus.SetLevel(lvl)
	}

	return Settings{
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8085"),
		LocalDSN: getEnvOrDefault("LOCAL_DB_DSN",
			"host=localhost user=epad password=epad dbname=epad port=5432 sslmode=disable"),
		ArchiveDSN: getEnvOrDefault("ARCHIVE_DB_DSN",
			"pacs:pacs@tcp(localhost:3306)/pacsdb?parseTime=true"),
		ArchiveURL:          getEnvOrDefault("ARCHIVE_URL", "http://localhost:8042"),
		ArchiveUser:         getEnvOrDefault("ARCHIVE_USER", "pacs"),
		ArchivePass:         os.Getenv("ARCHIVE_PASS"),
		IndexURL:            getEnvOrDefault("INDEX_URL", "http://localhost:8090"),
		IndexAdminUser:      getEnvOrDefault("INDEX_ADMIN_USER", "admin"),
		IndexAdminPass:      os.Getenv("INDEX_ADMIN_PASS"),
		IndexProject:        getEnvOrDefault("INDEX_PROJECT", "unassigned"),
		ArchiveFileRoot:     getEnvOrDefault("ARCHIVE_FILE_ROOT", "/var/lib/pacs/archive"),
		ArtifactRoot:        getEnvOrDefault("ARTIFACT_ROOT", "/var/lib/epad/resources"),
		UploadRoot:          getEnvOrDefault("UPLOAD_ROOT", "/var/lib/epad/upload"),
		AnnotationDir:       getEnvOrDefault("ANNOTATION_DIR", "/var/lib/epad/annotations"),
		AllowAuxiliaryFiles: os.Getenv("ALLOW_AUX_FILES") == "true",
	}
}

// ConnectDatabase opens the local postgres store and migrates the pipeline tables.
func ConnectDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect local store: %w", err)
	}
	DB = db
	return db, nil
}

// ConnectArchiveDatabase opens the archive metadata store. The archive owns this
// schema; we only ever read from it.
func ConnectArchiveDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive metadata store: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("archive metadata store unreachable: %w", err)
	}
	return db, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
