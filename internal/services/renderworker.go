package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/models"
)

const workerPollTimeout = 500 * time.Millisecond

// RenderWorker is the single consumer of the generation-task queue. Tasks are
// serialized: one completes before the next starts.
type RenderWorker struct {
	queue       *Queue[models.GenerationTask]
	renderer    models.Renderer
	store       LocalStore
	pollTimeout time.Duration
}

func NewRenderWorker(queue *Queue[models.GenerationTask], renderer models.Renderer, store LocalStore) *RenderWorker {
	return &RenderWorker{
		queue:       queue,
		renderer:    renderer,
		store:       store,
		pollTimeout: workerPollTimeout,
	}
}

func (w *RenderWorker) Run(ctx context.Context) {
	logrus.Info("rendering worker started")
	defer logrus.Info("rendering worker stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok := w.queue.Poll(ctx, w.pollTimeout)
		if !ok {
			continue
		}
		guarded("rendering worker", func() error {
			w.process(task)
			return nil
		})
	}
}

// process runs one task to completion. A dequeued task is never cancelled
// mid-flight; shutdown waits for it to finish naturally. On failure the registry
// row stays non-DONE, so the series watcher re-offers the instance on a later
// pass — retry by rediscovery, no retry here.
func (w *RenderWorker) process(task models.GenerationTask) {
	start := time.Now()
	size, err := w.renderer.Render(context.Background(), task)
	if err != nil {
		logrus.Errorf("%s task for %s failed: %v", task.Kind, task.ImageUID, err)
		if serr := w.store.FailArtifact(task.OutputPath, err.Error()); serr != nil {
			logrus.Errorf("recording failure for %s: %v", task.OutputPath, serr)
		}
		w.store.WriteAudit("system", "", task.SeriesUID, "artifact generation failed: "+err.Error())
		return
	}
	if err := w.store.CompleteArtifact(task.OutputPath, size); err != nil {
		logrus.Errorf("completing artifact %s: %v", task.OutputPath, err)
		return
	}
	// The annotation sidecar gets its own DONE row (no image UID) so later
	// bursts of the same series see it and stay masks-only.
	if task.AnnotationPath != "" {
		err := w.store.RegisterArtifact(models.ArtifactFile{
			FilePath:  task.AnnotationPath,
			SeriesUID: task.SeriesUID,
			Status:    models.ArtifactDone,
		})
		if err != nil {
			logrus.Errorf("registering annotation artifact %s: %v", task.AnnotationPath, err)
		}
	}
	logrus.Debugf("%s artifact %s done (%d bytes, %s)",
		task.Kind, task.OutputPath, size, time.Since(start).Round(time.Millisecond))
}
