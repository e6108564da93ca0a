package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/models"
)

// Coordinator owns the generation-task queue. It classifies incoming DICOM files,
// fetches non-resident ones from the archive, and constructs the matching task
// variant with its artifact-registry row pre-registered as IN_PIPELINE.
type Coordinator struct {
	store     LocalStore
	fetcher   ObjectFetcher
	reader    models.DicomReader
	taskQueue *Queue[models.GenerationTask]

	archiveFileRoot string
	artifactRoot    string
	tempDir         string
}

func NewCoordinator(store LocalStore, fetcher ObjectFetcher, reader models.DicomReader,
	taskQueue *Queue[models.GenerationTask], archiveFileRoot, artifactRoot string) *Coordinator {
	return &Coordinator{
		store:           store,
		fetcher:         fetcher,
		reader:          reader,
		taskQueue:       taskQueue,
		archiveFileRoot: archiveFileRoot,
		artifactRoot:    artifactRoot,
		tempDir:         filepath.Join(os.TempDir(), "epad-fetch"),
	}
}

type candidate struct {
	file models.ImageFileDescriptor
	path string
	info models.DicomInfo
}

// Dispatch constructs generation tasks for a batch of image instances. The batch
// usually belongs to one series but is not required to; the sameSeries flag only
// gates the segmentation-object dedup below.
func (c *Coordinator) Dispatch(ctx context.Context, patientName string, files []models.ImageFileDescriptor) {
	if len(files) == 0 {
		return
	}
	sameSeries := true
	for _, f := range files[1:] {
		if f.SeriesUID != files[0].SeriesUID {
			sameSeries = false
			break
		}
	}

	var segs []candidate
	for _, f := range files {
		path, err := c.resolveFile(ctx, f)
		if err != nil {
			logrus.Errorf("skipping instance %s: %v", f.SOPInstanceUID, err)
			continue
		}
		info, err := c.reader.ReadInfo(path)
		if err != nil {
			logrus.Errorf("skipping unreadable file %s: %v", path, err)
			continue
		}
		// Classification order matters: a multi-frame SEG object is a
		// segmentation object, not generic multi-frame.
		if info.Modality == "SEG" {
			segs = append(segs, candidate{file: f, path: path, info: info})
			continue
		}
		if info.FrameCount > 1 {
			c.dispatchMultiFrame(f, path, info)
			continue
		}
		c.enqueue(models.GenerationTask{
			Kind:       models.TaskSingleFrame,
			SeriesUID:  f.SeriesUID,
			StudyUID:   f.StudyUID,
			ImageUID:   f.SOPInstanceUID,
			SourcePath: path,
			OutputPath: c.imageBase(f) + ".png",
			FrameCount: 1,
		}, f.SOPInstanceUID)
	}

	// The archive may announce one DSO upload as a burst of near-duplicate
	// files. Within one series, only the newest is canonical.
	if len(segs) > 1 && sameSeries {
		latest := segs[0]
		for _, s := range segs[1:] {
			if s.file.CreatedTime.After(latest.file.CreatedTime) {
				latest = s
			}
		}
		logrus.Infof("segmentation burst of %d in series %s, keeping %s",
			len(segs), latest.file.SeriesUID, latest.file.SOPInstanceUID)
		segs = []candidate{latest}
	}
	for _, s := range segs {
		c.dispatchSegmentation(s)
	}
}

func (c *Coordinator) dispatchMultiFrame(f models.ImageFileDescriptor, path string, info models.DicomInfo) {
	base := c.imageBase(f)
	c.enqueue(models.GenerationTask{
		Kind:       models.TaskMultiFrame,
		SeriesUID:  f.SeriesUID,
		StudyUID:   f.StudyUID,
		ImageUID:   f.SOPInstanceUID,
		SourcePath: path,
		OutputPath: filepath.Join(base, "frames"),
		FrameCount: info.FrameCount,
	}, f.SOPInstanceUID)

	// Grid preview alongside the per-frame PNGs. Secondary artifact: its row
	// carries no image UID so it never satisfies the unprocessed diff.
	c.enqueue(models.GenerationTask{
		Kind:       models.TaskGrid,
		SeriesUID:  f.SeriesUID,
		StudyUID:   f.StudyUID,
		ImageUID:   f.SOPInstanceUID,
		SourcePath: path,
		OutputPath: filepath.Join(base, "grid.png"),
		FrameCount: info.FrameCount,
	}, "")
}

func (c *Coordinator) dispatchSegmentation(s candidate) {
	// The annotation sidecar is per series, not per object: the first rendered
	// burst writes it, later bursts with new SOP instances are masks-only.
	annotationPath := c.seriesAnnotationPath(s.file)
	exists, err := c.store.HasArtifact(annotationPath)
	if err != nil {
		logrus.Errorf("checking annotation artifact for %s: %v", s.file.SeriesUID, err)
	}
	if exists {
		annotationPath = ""
	}
	c.enqueue(models.GenerationTask{
		Kind:           models.TaskSegmentationMask,
		SeriesUID:      s.file.SeriesUID,
		StudyUID:       s.file.StudyUID,
		ImageUID:       s.file.SOPInstanceUID,
		SourcePath:     s.path,
		OutputPath:     filepath.Join(c.imageBase(s.file), "masks"),
		FrameCount:     s.info.FrameCount,
		AnnotationPath: annotationPath,
	}, s.file.SOPInstanceUID)
}

// enqueue pre-registers the IN_PIPELINE registry row, then offers the task.
// Overflow is a capacity error: the row stays IN_PIPELINE and the instance is
// re-offered by the series watcher once the queue drains.
func (c *Coordinator) enqueue(task models.GenerationTask, imageUID string) {
	err := c.store.RegisterArtifact(models.ArtifactFile{
		FilePath:  task.OutputPath,
		SeriesUID: task.SeriesUID,
		ImageUID:  imageUID,
		Status:    models.ArtifactInPipeline,
	})
	if err != nil {
		logrus.Errorf("registering artifact %s: %v", task.OutputPath, err)
		return
	}
	if !c.taskQueue.Offer(task) {
		logrus.Errorf("generation queue full (cap %d), dropping %s task for %s; raise capacity or slow producers",
			DefaultQueueCapacity, task.Kind, task.SeriesUID)
		c.store.WriteAudit("system", "", task.SeriesUID, "generation queue overflow")
	}
}

// resolveFile returns a readable local path for the instance, fetching it from
// the archive when it is not resident. The fetch is a blocking network call;
// only this descriptor is lost if it fails.
func (c *Coordinator) resolveFile(ctx context.Context, f models.ImageFileDescriptor) (string, error) {
	local := filepath.Join(c.archiveFileRoot, f.FilePath)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("creating fetch dir: %w", err)
	}
	dest := filepath.Join(c.tempDir, uuid.NewString()+".dcm")
	if err := c.fetcher.FetchInstance(ctx, f.StudyUID, f.SeriesUID, f.SOPInstanceUID, dest); err != nil {
		return "", fmt.Errorf("fetching %s from archive: %w", f.SOPInstanceUID, err)
	}
	return dest, nil
}

func (c *Coordinator) imageBase(f models.ImageFileDescriptor) string {
	return filepath.Join(c.artifactRoot, "studies", f.StudyUID,
		"series", f.SeriesUID, "images", f.SOPInstanceUID)
}

func (c *Coordinator) seriesAnnotationPath(f models.ImageFileDescriptor) string {
	return filepath.Join(c.artifactRoot, "studies", f.StudyUID,
		"series", f.SeriesUID, "annotation.json")
}
