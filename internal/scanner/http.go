package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// maxReportBytes bounds the size of a report read from the scanner.
const maxReportBytes = 64 << 20

// HTTPClient is a Client for the scanner REST API:
//
//	POST /api/scans       submit, responds {"id": "..."}
//	GET  /api/scans/{id}  poll, responds {"id", "state", "message", "report"}
type HTTPClient struct {
	baseURL *url.URL
	token   string
	client  *retryablehttp.Client
}

type submitRequest struct {
	CorrelationID  string   `json:"correlationId"`
	Repository     string   `json:"repository"`
	CloneURL       string   `json:"cloneUrl"`
	Branch         string   `json:"branch"`
	Ref            string   `json:"ref,omitempty"`
	PullRequest    int      `json:"pullRequest,omitempty"`
	Team           string   `json:"team,omitempty"`
	Project        string   `json:"project,omitempty"`
	Preset         string   `json:"preset,omitempty"`
	Incremental    bool     `json:"incremental"`
	ExcludeFiles   []string `json:"excludeFiles,omitempty"`
	ExcludeFolders []string `json:"excludeFolders,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	ID      string          `json:"id"`
	State   string          `json:"state"`
	Message string          `json:"message"`
	Report  json.RawMessage `json:"report"`
}

// NewHTTPClient creates a scanner client from configuration. Transient
// failures (connection errors, 5xx, 429) are retried with backoff.
func NewHTTPClient(cfg config.ScannerConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("scanner URL is not configured")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid scanner URL: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   4,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport}
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = logging.GetLogger()

	logging.Debug("scanner client created",
		"url", base.String(),
		"token", logging.MaskSensitive(cfg.Token))

	return &HTTPClient{baseURL: base, token: cfg.Token, client: rc}, nil
}

// Submit starts a scan.
func (c *HTTPClient) Submit(ctx context.Context, req models.ScanRequest) (Handle, error) {
	body := submitRequest{
		CorrelationID:  req.CorrelationID,
		Repository:     req.Repository,
		CloneURL:       req.CloneURL,
		Branch:         req.Branch,
		Ref:            req.Ref,
		PullRequest:    req.PullRequest,
		Team:           req.Team,
		Project:        req.Project,
		Preset:         req.Preset,
		Incremental:    req.Incremental,
		ExcludeFiles:   req.ExcludeFiles,
		ExcludeFolders: req.ExcludeFolders,
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/api/scans", body, &resp); err != nil {
		return Handle{}, fmt.Errorf("failed to submit scan for %s: %w", req.Repository, err)
	}
	if resp.ID == "" {
		return Handle{}, fmt.Errorf("%w: scanner returned no scan id", models.ErrScanFailed)
	}

	return Handle{ID: resp.ID, ScopeKey: req.ScopeKey()}, nil
}

// Poll fetches the current status of a scan.
func (c *HTTPClient) Poll(ctx context.Context, handle Handle) (Status, error) {
	var resp pollResponse
	if err := c.do(ctx, http.MethodGet, "/api/scans/"+url.PathEscape(handle.ID), nil, &resp); err != nil {
		return Status{}, fmt.Errorf("failed to poll scan %s: %w", handle.ID, err)
	}

	switch State(strings.ToUpper(resp.State)) {
	case StateDone:
		return Status{State: StateDone, Report: resp.Report}, nil
	case StateFailed:
		return Status{State: StateFailed, Message: resp.Message}, nil
	default:
		return Status{State: StateRunning}, nil
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body any
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrScanFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", models.ErrScanFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: scanner responded %d: %s", models.ErrScanFailed, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: invalid scanner response: %v", models.ErrScanFailed, err)
		}
	}
	return nil
}
