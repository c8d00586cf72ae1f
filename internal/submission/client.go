// Package submission forwards proposal files to the proposal storage service.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"saltapi/internal/obs"
	"saltapi/internal/proposal"
)

var (
	// ErrTransport covers timeouts and connection failures. The caller may retry.
	ErrTransport = errors.New("submission: storage service unreachable")
	// ErrRejected is returned when the storage service answered but did not accept the submission.
	ErrRejected = errors.New("submission: rejected by storage service")
)

const defaultTimeout = 30 * time.Second

// Client submits proposals. Each Submit makes exactly one request.
type Client struct {
	endpoint string
	http     *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client; its timeout is kept.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client posting to baseURL + "/submissions/".
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid submission service url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		endpoint: baseURL + "/submissions/",
		http:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = timeout
	}
	return c, nil
}

type submitResponse struct {
	SubmissionID string `json:"submission_id"`
}

// Submit uploads the proposal file and returns the storage service's submission id.
// A nil code submits a new proposal.
func (c *Client) Submit(ctx context.Context, username string, code *proposal.Code, filename string, file io.Reader) (string, error) {
	start := time.Now()
	id, err := c.submit(ctx, username, code, filename, file)
	result := "ok"
	switch {
	case errors.Is(err, ErrTransport):
		result = "transport_error"
	case err != nil:
		result = "rejected"
	}
	obs.ObserveSubmission(result, time.Since(start))
	return id, err
}

func (c *Client) submit(ctx context.Context, username string, code *proposal.Code, filename string, file io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("submitter", username); err != nil {
		return "", err
	}
	if code != nil {
		if err := mw.WriteField("proposal_code", code.String()); err != nil {
			return "", err
		}
	}
	if filename == "" {
		filename = "proposal.zip"
	}
	part, err := mw.CreateFormFile("proposal", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read proposal file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out submitResponse
	if err := json.Unmarshal(body, &out); err != nil || strings.TrimSpace(out.SubmissionID) == "" {
		return "", fmt.Errorf("%w: response without submission id", ErrRejected)
	}
	return out.SubmissionID, nil
}
