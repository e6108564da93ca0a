package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/config"
	"github.com/151706061/epad-ws-sub000/handlers"
	"github.com/151706061/epad-ws-sub000/internal/render"
	"github.com/151706061/epad-ws-sub000/internal/services"
	"github.com/151706061/epad-ws-sub000/internal/store"
	"github.com/151706061/epad-ws-sub000/models"
	"github.com/151706061/epad-ws-sub000/pkg/pacs"
	"github.com/151706061/epad-ws-sub000/pkg/xnat"
)

func main() {
	settings := config.Load()

	db, err := config.ConnectDatabase(settings.LocalDSN)
	if err != nil {
		logrus.Fatalf("local store: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		logrus.Fatalf("migrating local store: %v", err)
	}
	archiveDB, err := config.ConnectArchiveDatabase(settings.ArchiveDSN)
	if err != nil {
		logrus.Fatalf("archive metadata store: %v", err)
	}
	defer archiveDB.Close()

	localStore := store.New(db)
	archive := pacs.NewMetadataDB(archiveDB)
	archiveClient := pacs.NewClient(settings.ArchiveURL, settings.ArchiveUser, settings.ArchivePass)
	indexClient := xnat.NewClient(settings.IndexURL, settings.IndexAdminUser, settings.IndexAdminPass)
	reader := render.NewInfoReader()

	renderQueue := services.NewQueue[models.SeriesDescriptor](services.DefaultQueueCapacity)
	indexQueue := services.NewQueue[models.SeriesDescriptor](services.DefaultQueueCapacity)
	taskQueue := services.NewQueue[models.GenerationTask](services.DefaultQueueCapacity)
	tracker := services.NewTracker()

	coordinator := services.NewCoordinator(localStore, archiveClient, reader, taskQueue,
		settings.ArchiveFileRoot, settings.ArtifactRoot)

	archiveWatcher := services.NewArchiveWatcher(archive, localStore, renderQueue, indexQueue)
	seriesWatcher := services.NewSeriesWatcher(renderQueue, tracker, archive, localStore, coordinator)
	indexWatcher := services.NewIndexWatcher(indexQueue, indexClient, settings.IndexProject)
	worker := services.NewRenderWorker(taskQueue, render.NewPNGRenderer(), localStore)
	uploadWatcher := services.NewUploadWatcher(settings.UploadRoot, indexClient, archiveClient,
		services.NewFileAnnotationImporter(settings.AnnotationDir), reader, localStore,
		settings.AllowAuxiliaryFiles)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){
		archiveWatcher.Run,
		seriesWatcher.Run,
		indexWatcher.Run,
		worker.Run,
		uploadWatcher.Run,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(loop)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	handlers.NewPipelineStatus(tracker, renderQueue, indexQueue, taskQueue).Register(router)

	server := &http.Server{Addr: ":" + settings.HTTPPort, Handler: router}
	go func() {
		logrus.Infof("status server listening on :%s", settings.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("status server: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("stopping status server: %v", err)
	}
	wg.Wait()
	logrus.Info("pipeline stopped")
}
