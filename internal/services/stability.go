package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	stabilitySampleInterval = 2 * time.Second
	stabilityMaxWait        = time.Hour
)

// ErrNeverStable aborts a session whose upload never settles; without the
// ceiling a stalled client would pin the watcher forever.
var ErrNeverStable = errors.New("upload did not stabilize within the wait ceiling")

type dirSample struct {
	files int
	bytes int64
}

func sampleDir(dir string) (dirSample, error) {
	var s dirSample
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		s.files++
		s.bytes += info.Size()
		return nil
	})
	return s, err
}

type fileSample struct {
	size  int64
	mtime time.Time
}

func sampleFile(path string) (fileSample, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileSample{}, err
	}
	return fileSample{size: info.Size(), mtime: info.ModTime()}, nil
}

// waitForStableDir returns once two consecutive samples (file count, byte total)
// taken interval apart are identical. One sample is never enough: a file count
// can match mid-upload while bytes still move.
func waitForStableDir(ctx context.Context, dir string, interval, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	prev, err := sampleDir(dir)
	if err != nil {
		return fmt.Errorf("sampling %s: %w", dir, err)
	}
	for {
		if time.Now().After(deadline) {
			return ErrNeverStable
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		cur, err := sampleDir(dir)
		if err != nil {
			return fmt.Errorf("sampling %s: %w", dir, err)
		}
		if cur == prev {
			return nil
		}
		prev = cur
	}
}

// waitForStableFile is the zip variant: size and mtime across two samples.
func waitForStableFile(ctx context.Context, path string, interval, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	prev, err := sampleFile(path)
	if err != nil {
		return fmt.Errorf("sampling %s: %w", path, err)
	}
	for {
		if time.Now().After(deadline) {
			return ErrNeverStable
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		cur, err := sampleFile(path)
		if err != nil {
			return fmt.Errorf("sampling %s: %w", path, err)
		}
		if cur == prev {
			return nil
		}
		prev = cur
	}
}

// unzipInto extracts an archive into dir, refusing entries that escape it.
func unzipInto(zipPath, dir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes session directory: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := extractOne(f, dest); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractOne(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
