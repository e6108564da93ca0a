package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/151706061/epad-ws-sub000/config"
	"github.com/151706061/epad-ws-sub000/internal/store"
	"github.com/151706061/epad-ws-sub000/pkg/pacs"
)

func main() {
	seriesUID := flag.String("series", "", "Series instance UID (required)")
	flag.Parse()

	if *seriesUID == "" {
		fmt.Println("Error: missing series UID")
		flag.Usage()
		fmt.Println("\nExample:")
		fmt.Println("  go run cmd/check_series/main.go -series=1.2.840.113619.2.5.1762583153")
		os.Exit(1)
	}

	godotenv.Load()
	settings := config.Load()

	archiveDB, err := config.ConnectArchiveDatabase(settings.ArchiveDSN)
	if err != nil {
		log.Fatalf("archive metadata store: %v", err)
	}
	defer archiveDB.Close()

	db, err := config.ConnectDatabase(settings.LocalDSN)
	if err != nil {
		log.Fatalf("local store: %v", err)
	}

	archive := pacs.NewMetadataDB(archiveDB)
	localStore := store.New(db)

	images, err := archive.SeriesImages(context.Background(), *seriesUID)
	if err != nil {
		log.Fatalf("querying archive: %v", err)
	}
	done, err := localStore.DoneImageUIDs(*seriesUID)
	if err != nil {
		log.Fatalf("querying artifact registry: %v", err)
	}

	fmt.Printf("Series %s\n", *seriesUID)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("  archive instances: %d\n", len(images))
	fmt.Printf("  rendered:          %d\n", len(done))
	fmt.Printf("  pending:           %d\n", len(images)-len(done))
	for _, img := range images {
		mark := " "
		if _, ok := done[img.SOPInstanceUID]; ok {
			mark = "✓"
		}
		fmt.Printf("  [%s] %3d  %s\n", mark, img.InstanceNumber, img.SOPInstanceUID)
	}
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
}
