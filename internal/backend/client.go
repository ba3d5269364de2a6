// Package backend implements the HTTP client for the job-processing backend.
// Every endpoint is consumed as an opaque collaborator: the client shapes
// requests, classifies failures, and reports transfer progress, but holds no
// job state of its own.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/taskbridge/taskbridge-client/internal/apperror"
	"github.com/taskbridge/taskbridge-client/internal/job"
)

const (
	defaultBaseURL      = "http://127.0.0.1:8000"
	defaultProbeTimeout = 3 * time.Second
	downloadChunkSize   = 32 * 1024
)

// Client talks to the job-processing backend.
type Client struct {
	baseURL      string
	userID       string
	client       *http.Client
	probeTimeout time.Duration
}

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:      defaultBaseURL,
		client:       &http.Client{},
		probeTimeout: defaultProbeTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the backend base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithClient sets the HTTP client.
func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithUserID sets the opaque user identifier attached to uploads. The client
// does not derive or validate it.
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = id }
}

// WithProbeTimeout bounds the reachability check.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) { c.probeTimeout = d }
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Probe checks backend reachability with a bounded timeout. Any transport
// error, timeout, or non-success status means the backend is offline. Probe
// carries no retry policy; callers re-invoke it from their reconnect loop.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_jobs/", nil)
	if err != nil {
		return apperror.Wrap(apperror.Connectivity, "build probe request", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	res, err := c.client.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.Connectivity, "backend unreachable", err)
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return apperror.New(apperror.Connectivity, fmt.Sprintf("probe returned HTTP %d", res.StatusCode))
	}
	return nil
}

// FetchJobs retrieves the full job collection snapshot. The response must not
// come from a cache.
func (c *Client) FetchJobs(ctx context.Context) ([]job.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_jobs/", nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.Connectivity, "build snapshot request", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.Connectivity, "fetch snapshot", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, apperror.New(apperror.Connectivity, fmt.Sprintf("snapshot returned HTTP %d", res.StatusCode))
	}

	var records []job.Record
	if err := json.NewDecoder(res.Body).Decode(&records); err != nil {
		return nil, apperror.Wrap(apperror.Connectivity, "parse snapshot", err)
	}

	slog.Info("retrieved job snapshot", "count", len(records))
	return records, nil
}

// StartUpload streams body to the upload-initiation endpoint and returns the
// canonical job id assigned by the backend. onProgress receives rounded
// percentages while the body is consumed; it is never called when size is
// unknown (<= 0). A 100% tick may arrive before StartUpload returns.
func (c *Client) StartUpload(ctx context.Context, filename string, size int64, body io.Reader, onProgress func(pct int)) (string, error) {
	reqURL := c.baseURL + "/start_job_upload/?filename=" + url.QueryEscape(filename)

	reader := body
	if size > 0 && onProgress != nil {
		reader = &progressReader{r: body, total: size, onProgress: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, reader)
	if err != nil {
		return "", apperror.Wrap(apperror.TransferInit, "build upload request", err)
	}
	if size > 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", apperror.Wrap(apperror.TransferInit, "upload failed", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return "", apperror.New(apperror.TransferInit, fmt.Sprintf("upload returned HTTP %d", res.StatusCode))
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return "", apperror.Wrap(apperror.TransferInit, "parse upload response", err)
	}
	if result.JobID == "" {
		return "", apperror.New(apperror.TransferInit, "backend returned no job id")
	}

	slog.Info("upload accepted", "filename", filename, "job", result.JobID)
	return result.JobID, nil
}

// Download streams the result of jobID into w, reading the body in chunks.
// When the server provides a total size, onProgress receives rounded
// percentages; without one, progress stays unreported but the transfer still
// completes. Returns the number of bytes written.
func (c *Client) Download(ctx context.Context, jobID string, w io.Writer, onProgress func(pct int)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+url.PathEscape(jobID), nil)
	if err != nil {
		return 0, apperror.Wrap(apperror.TransferBody, "build download request", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return 0, apperror.Wrap(apperror.TransferBody, "download failed", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return 0, apperror.New(apperror.TransferBody, fmt.Sprintf("download returned HTTP %d", res.StatusCode))
	}

	total := res.ContentLength
	var received int64
	lastPct := -1

	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := res.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return received, apperror.Wrap(apperror.TransferBody, "write download chunk", err)
			}
			received += int64(n)
			if total > 0 && onProgress != nil {
				if pct := roundPct(received, total); pct != lastPct {
					lastPct = pct
					onProgress(pct)
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return received, apperror.Wrap(apperror.TransferBody, "read download body", readErr)
		}
	}

	slog.Info("download complete", "job", jobID, "bytes", received)
	return received, nil
}

// ClearJobs deletes every job on the backend.
func (c *Client) ClearJobs(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/clear_jobs/", nil)
	if err != nil {
		return fmt.Errorf("build clear request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("clear jobs returned HTTP %d", res.StatusCode)
	}

	slog.Info("cleared backend jobs")
	return nil
}

// progressReader counts bytes as the transport consumes the request body and
// reports rounded percentages, deduplicated so each value fires once.
type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	lastPct    int
	started    bool
	onProgress func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		pct := roundPct(p.sent, p.total)
		if !p.started || pct != p.lastPct {
			p.started = true
			p.lastPct = pct
			p.onProgress(pct)
		}
	}
	return n, err
}

func roundPct(done, total int64) int {
	return int(math.Round(float64(done) / float64(total) * 100))
}
