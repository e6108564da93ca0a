package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/151706061/epad-ws-sub000/config"
	"github.com/151706061/epad-ws-sub000/internal/services"
)

// Stages a local directory into the upload root with a generated manifest, the
// same layout the upload watcher expects from remote clients.
func main() {
	src := flag.String("dir", "", "Directory of DICOM files to stage (required)")
	project := flag.String("project", "", "Target project (required)")
	user := flag.String("user", "", "Uploading user (required)")
	subject := flag.String("subject", "", "Subject ID override (optional)")
	study := flag.String("study", "", "Study UID override (optional)")
	flag.Parse()

	if *src == "" || *project == "" || *user == "" {
		fmt.Println("Error: -dir, -project and -user are required")
		flag.Usage()
		fmt.Println("\nExample:")
		fmt.Println("  go run cmd/stage_upload/main.go -dir=./scans -project=demo -user=alice")
		os.Exit(1)
	}

	godotenv.Load()
	settings := config.Load()

	sessionDir := filepath.Join(settings.UploadRoot, uuid.NewString())
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		log.Fatalf("creating session directory: %v", err)
	}

	copied, err := copyTree(*src, sessionDir)
	if err != nil {
		log.Fatalf("staging files: %v", err)
	}

	manifest := fmt.Sprintf("project=%s\nuser=%s\nsession.token=%s\n", *project, *user, uuid.NewString())
	if *subject != "" {
		manifest += "subject.id=" + *subject + "\n"
	}
	if *study != "" {
		manifest += "study.uid=" + *study + "\n"
	}
	manifestPath := filepath.Join(sessionDir, services.ManifestFile)
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		log.Fatalf("writing manifest: %v", err)
	}

	fmt.Printf("Staged %d files into %s\n", copied, sessionDir)
	fmt.Println("The upload watcher will pick the session up on its next scan.")
}

func copyTree(src, dest string) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, err
	}
	copied := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
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
