package xnat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/151706061/epad-ws-sub000/internal/services"
)

const sessionLifetime = 23 * time.Hour

// Client registers subjects and experiments with the index system. It logs in
// as the administrative user, caches the session token, and re-logs-in when
// the cached session ages out.
type Client struct {
	baseURL string
	user    string
	pass    string
	http    *http.Client

	mu             sync.RWMutex
	session        string
	sessionExpires time.Time
}

func NewClient(baseURL, user, pass string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		pass:    pass,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) getSession(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.session != "" && time.Now().Before(c.sessionExpires) {
		session := c.session
		c.mu.RUnlock()
		return session, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// double-check after acquiring lock
	if c.session != "" && time.Now().Before(c.sessionExpires) {
		return c.session, nil
	}

	logrus.Infof("index session expired, logging in as %s", c.user)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/data/JSESSION", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("index login failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("index login failed with status %d: %s", resp.StatusCode, body)
	}

	token, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("reading session token: %w", err)
	}
	session := strings.TrimSpace(string(token))
	if session == "" {
		return "", fmt.Errorf("index login returned empty session")
	}

	c.session = session
	c.sessionExpires = time.Now().Add(sessionLifetime)
	return c.session, nil
}

// CreateSubject is idempotent at the server: PUT on an existing subject is a
// no-op there, so repeated registrations are safe.
func (c *Client) CreateSubject(ctx context.Context, project, label, displayName string) error {
	q := url.Values{}
	if displayName != "" {
		q.Set("src", displayName)
	}
	path := fmt.Sprintf("/data/projects/%s/subjects/%s", url.PathEscape(project), url.PathEscape(label))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.put(ctx, path)
}

func (c *Client) CreateExperiment(ctx context.Context, project, subjectLabel, label, studyUID string) error {
	q := url.Values{}
	q.Set("xsiType", "xnat:otherDicomSessionData")
	if studyUID != "" {
		q.Set("UID", studyUID)
	}
	path := fmt.Sprintf("/data/projects/%s/subjects/%s/experiments/%s?%s",
		url.PathEscape(project), url.PathEscape(subjectLabel), url.PathEscape(label), q.Encode())
	return c.put(ctx, path)
}

func (c *Client) put(ctx context.Context, path string) error {
	session, err := c.getSession(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: session})

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		// already present, which is what we wanted
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		c.mu.Lock()
		c.session = ""
		c.mu.Unlock()
		return fmt.Errorf("index rejected session (status %d)", resp.StatusCode)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("index returned %d: %s", resp.StatusCode, body)
}

var _ services.IndexService = (*Client)(nil)
