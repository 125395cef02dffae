// Package nvr downloads recordings from the Unifi Video NVR API.
package nvr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const DefaultPort = 7080

// FetchError is returned for any failure to materialize a recording locally.
type FetchError struct {
	RecordingID string
	StatusCode  int // zero unless the NVR answered with a non-2xx status
	Err         error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch recording %s: HTTP %d: %v", e.RecordingID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch recording %s: %v", e.RecordingID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the NVR recording API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBaseURL overrides the http://host:port base.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the NVR at host. A zero port means DefaultPort.
func New(host string, port int, apiKey string, opts ...Option) *Client {
	if port == 0 {
		port = DefaultPort
	}
	c := &Client{
		baseURL:    "http://" + host + ":" + strconv.Itoa(port),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DownloadURL returns the recording download URL including the API key.
func (c *Client) DownloadURL(recordingID string) string {
	return c.baseURL + "/api/2.0/recording/" + url.PathEscape(recordingID) +
		"/download/?apiKey=" + url.QueryEscape(c.apiKey)
}

// Download fetches the recording into dest, replacing any previous file.
// The body is written to a temporary sibling and renamed into place, so dest
// only exists when the download completed.
func (c *Client) Download(ctx context.Context, recordingID, dest string) error {
	fail := func(status int, err error) error {
		return &FetchError{RecordingID: recordingID, StatusCode: status, Err: err}
	}

	c.logger.Info("Downloading recording",
		zap.String("recording_id", recordingID),
		zap.String("url", c.baseURL+"/api/2.0/recording/"+recordingID+"/download/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(recordingID), nil)
	if err != nil {
		return fail(0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", snippet))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fail(0, err)
	}

	tmp := dest + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fail(0, err)
	}

	n, err := io.Copy(file, resp.Body)
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fail(0, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fail(0, err)
	}

	// The detector runs as a different user in some installs.
	if err := os.Chmod(dest, 0o644); err != nil {
		return fail(0, err)
	}

	if _, err := os.Stat(dest); err != nil {
		return fail(0, fmt.Errorf("recording file missing after download: %w", err))
	}

	c.logger.Info("Recording downloaded",
		zap.String("recording_id", recordingID),
		zap.String("path", dest),
		zap.Int64("bytes", n))
	return nil
}
