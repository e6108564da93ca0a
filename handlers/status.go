package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/151706061/epad-ws-sub000/internal/services"
	"github.com/151706061/epad-ws-sub000/models"
)

// PipelineStatus exposes the live state of the watcher loops: tracked series
// with their completion, plus queue depths.
type PipelineStatus struct {
	tracker     *services.Tracker
	renderQueue *services.Queue[models.SeriesDescriptor]
	indexQueue  *services.Queue[models.SeriesDescriptor]
	taskQueue   *services.Queue[models.GenerationTask]
}

func NewPipelineStatus(tracker *services.Tracker,
	renderQueue, indexQueue *services.Queue[models.SeriesDescriptor],
	taskQueue *services.Queue[models.GenerationTask]) *PipelineStatus {
	return &PipelineStatus{
		tracker:     tracker,
		renderQueue: renderQueue,
		indexQueue:  indexQueue,
		taskQueue:   taskQueue,
	}
}

func (h *PipelineStatus) Register(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/pipeline/status", h.Status)
}

func (h *PipelineStatus) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *PipelineStatus) Status(c *gin.Context) {
	type seriesView struct {
		SeriesUID   string  `json:"series_uid"`
		StudyUID    string  `json:"study_uid"`
		State       string  `json:"state"`
		Unprocessed int     `json:"unprocessed"`
		Completion  float64 `json:"completion"`
	}

	tracked := h.tracker.All()
	series := make([]seriesView, 0, len(tracked))
	for i := range tracked {
		s := &tracked[i]
		series = append(series, seriesView{
			SeriesUID:   s.Descriptor.SeriesUID,
			StudyUID:    s.Descriptor.StudyUID,
			State:       string(s.State),
			Unprocessed: s.Unprocessed,
			Completion:  s.CompletionRatio(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tracked_series": series,
		"queues": gin.H{
			"render": h.renderQueue.Len(),
			"index":  h.indexQueue.Len(),
			"tasks":  h.taskQueue.Len(),
		},
	})
}
