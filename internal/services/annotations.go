package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FileAnnotationImporter routes annotation files into the per-project annotation
// directory, where the annotation subsystem picks them up.
type FileAnnotationImporter struct {
	dir string
}

func NewFileAnnotationImporter(dir string) *FileAnnotationImporter {
	return &FileAnnotationImporter{dir: dir}
}

func (i *FileAnnotationImporter) Import(project, user, path string) error {
	destDir := filepath.Join(i.dir, project, user)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating annotation directory: %w", err)
	}
	dest := filepath.Join(destDir, filepath.Base(path))
	if err := copyFile(path, dest); err != nil {
		return fmt.Errorf("importing annotation %s: %w", filepath.Base(path), err)
	}
	logrus.Infof("annotation %s routed to %s", filepath.Base(path), destDir)
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

var _ AnnotationImporter = (*FileAnnotationImporter)(nil)
