package pacs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/internal/render"
	"github.com/151706061/epad-ws-sub000/internal/services"
)

// Client talks to the archive's REST interface with basic auth. It covers the
// two directions the pipeline needs: pulling one instance down (when the
// shared filesystem misses it) and pushing accepted uploads in.
type Client struct {
	baseURL string
	user    string
	pass    string
	http    *http.Client
}

func NewClient(baseURL, user, pass string) *Client {
	return &Client{
		baseURL: baseURL,
		user:    user,
		pass:    pass,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// FetchInstance downloads one DICOM object via the WADO endpoint into destPath.
func (c *Client) FetchInstance(ctx context.Context, studyUID, seriesUID, imageUID, destPath string) error {
	q := url.Values{}
	q.Set("requestType", "WADO")
	q.Set("studyUID", studyUID)
	q.Set("seriesUID", seriesUID)
	q.Set("objectUID", imageUID)
	q.Set("contentType", "application/dicom")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/wado?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching instance %s: %w", imageUID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fetching instance %s: archive returned %d: %s", imageUID, resp.StatusCode, body)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing instance %s: %w", imageUID, err)
	}
	return nil
}

// ForwardDirectory posts every DICOM file under dir to the archive's instance
// endpoint, one object per request. With removeAfterSend each file is deleted
// once the archive accepts it.
func (c *Client) ForwardDirectory(ctx context.Context, dir string, removeAfterSend bool) error {
	var sent int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !render.LooksLikeDICOM(path) {
			return nil
		}
		if err := c.sendInstance(ctx, path); err != nil {
			return err
		}
		sent++
		if removeAfterSend {
			if err := os.Remove(path); err != nil {
				logrus.Errorf("removing forwarded file %s: %v", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logrus.Infof("forwarded %d dicom files from %s", sent, dir)
	return nil
}

func (c *Client) sendInstance(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/instances", f)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Content-Type", "application/dicom")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sending %s: archive returned %d: %s", filepath.Base(path), resp.StatusCode, body)
	}
	return nil
}

var (
	_ services.ObjectFetcher = (*Client)(nil)
	_ services.Forwarder     = (*Client)(nil)
)
