// Package api is the HTTP client for the checklist server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/model"
)

const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
	DefaultRetryCount     = 3
	DefaultRetryWait      = 500 * time.Millisecond
	DefaultRetryMaxWait   = 5 * time.Second
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found on server")

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration

	// RetryCount is how often a request answered with 429 or 5xx, or lost in
	// transport, is repeated. Negative disables retries.
	RetryCount int
	// RetryWait and RetryMaxWait bound the back-off between attempts. A
	// Retry-After header from the server wins within those bounds.
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// Client talks to the /api routes of the checklist server.
type Client struct {
	http         *resty.Client
	probe        *resty.Client
	probeTimeout time.Duration
	logger       *zap.Logger
}

// NewClient creates a client. A nil logger discards output.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	switch {
	case cfg.RetryCount == 0:
		cfg.RetryCount = DefaultRetryCount
	case cfg.RetryCount < 0:
		cfg.RetryCount = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = DefaultRetryWait
	}
	if cfg.RetryMaxWait < cfg.RetryWait {
		cfg.RetryMaxWait = max(DefaultRetryMaxWait, cfg.RetryWait)
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetRetryAfter(retryAfter).
		AddRetryCondition(retryable).
		AddRetryHook(func(resp *resty.Response, err error) {
			fields := []zap.Field{zap.Error(err)}
			if resp != nil {
				fields = append(fields,
					zap.String("url", resp.Request.URL),
					zap.Int("status_code", resp.StatusCode()),
					zap.Int("attempt", resp.Request.Attempt),
				)
			}
			logger.Debug("Retrying request", fields...)
		})

	// Probes answer "reachable right now"; retrying them would only stretch
	// the probe timeout.
	probeClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json")

	return &Client{
		http:         httpClient,
		probe:        probeClient,
		probeTimeout: cfg.ProbeTimeout,
		logger:       logger,
	}
}

// retryable repeats transport failures and 429 or 5xx answers.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// retryAfter reads the Retry-After header as seconds or an HTTP date. Zero
// lets resty fall back to its jittered back-off.
func retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil {
		return 0, nil
	}
	v := resp.Header().Get("Retry-After")
	if v == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, nil
		}
	}
	return 0, nil
}

// Probe performs a round trip to the health endpoint, bypassing every cache
// on the way. It returns nil only for a 2xx answer within the probe timeout.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	resp, err := c.probe.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache, no-store, must-revalidate").
		SetHeader("Pragma", "no-cache").
		SetQueryParam("_", strconv.FormatInt(time.Now().UnixNano(), 10)).
		Get("/api/health")
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	if resp.IsError() {
		return &Error{StatusCode: resp.StatusCode(), Message: resp.Status()}
	}
	return nil
}

// ListAssets returns all assets.
func (c *Client) ListAssets(ctx context.Context) ([]model.Asset, error) {
	var out []model.Asset
	if err := c.get(ctx, "/api/assets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAsset returns one asset.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	var out model.Asset
	if err := c.get(ctx, "/api/assets/"+assetID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChecklists returns all checklists, inactive ones included.
func (c *Client) ListChecklists(ctx context.Context) ([]model.Checklist, error) {
	var out []model.Checklist
	if err := c.get(ctx, "/api/checklists", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEvents returns events newest first, optionally for one asset.
func (c *Client) ListEvents(ctx context.Context, assetID string) ([]model.PreShiftCheckEvent, error) {
	params := map[string]string{}
	if assetID != "" {
		params["asset_id"] = assetID
	}
	var out []model.PreShiftCheckEvent
	if err := c.get(ctx, "/api/events", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastFailedCheck returns the asset's unresolved failed check, or nil.
func (c *Client) LastFailedCheck(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error) {
	var out *model.PreShiftCheckEvent
	if err := c.get(ctx, "/api/events/last-failed/"+assetID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchUpsertEvents uploads events. Client-only fields are stripped first.
func (c *Client) BatchUpsertEvents(ctx context.Context, events []*model.PreShiftCheckEvent) (*model.BatchResponse, error) {
	wire := make([]*model.PreShiftCheckEvent, len(events))
	for i, ev := range events {
		wire[i] = ev.Wire()
	}

	var out model.BatchResponse
	if err := c.post(ctx, "/api/events/batch", wire, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("Uploaded event batch",
		zap.Int("processed", out.Processed),
		zap.Int("created", out.Created),
		zap.Int("updated", out.Updated),
		zap.Int("errors", len(out.Errors)),
	)
	return &out, nil
}

// ListFaults returns faults newest first, optionally filtered.
func (c *Client) ListFaults(ctx context.Context, assetID string, status model.FaultStatus) ([]model.Fault, error) {
	params := map[string]string{}
	if assetID != "" {
		params["asset_id"] = assetID
	}
	if status != "" {
		params["status"] = string(status)
	}
	var out []model.Fault
	if err := c.get(ctx, "/api/faults", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchUpsertFaults uploads faults. Client-only fields are stripped first.
func (c *Client) BatchUpsertFaults(ctx context.Context, faults []*model.Fault) (*model.BatchResponse, error) {
	wire := make([]*model.Fault, len(faults))
	for i, f := range faults {
		wire[i] = f.Wire()
	}

	var out model.BatchResponse
	if err := c.post(ctx, "/api/faults/batch", wire, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("Uploaded fault batch",
		zap.Int("processed", out.Processed),
		zap.Int("errors", len(out.Errors)),
	)
	return &out, nil
}

// FaultPatch is a partial fault update. Nil fields are left unchanged.
type FaultPatch struct {
	Status      *model.FaultStatus `json:"status,omitempty"`
	Description *string            `json:"description,omitempty"`
	Priority    *model.Priority    `json:"priority,omitempty"`
}

// PatchFault applies a partial update, for example closing a fault.
func (c *Client) PatchFault(ctx context.Context, faultID string, patch FaultPatch) (*model.Fault, error) {
	var out model.Fault
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(patch).
		Patch("/api/faults/" + faultID)
	if err := c.decode(resp, err, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServerStatus is the counts snapshot from /api/status.
type ServerStatus struct {
	Assets     int       `json:"assets"`
	Checklists int       `json:"checklists"`
	Events     int       `json:"events"`
	Faults     int       `json:"faults"`
	OpenFaults int       `json:"open_faults"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status returns the server counts snapshot.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var out ServerStatus
	if err := c.get(ctx, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	return c.decode(resp, err, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	return c.decode(resp, err, out)
}

// decode turns a resty result into either a decoded body or an error.
func (c *Client) decode(resp *resty.Response, err error, out any) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if resp.IsError() {
		var body errorBody
		msg := resp.Status()
		if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
			msg = body.Error
			if body.Message != "" {
				msg += ": " + body.Message
			}
		}
		c.logger.Debug("Server returned error",
			zap.String("url", resp.Request.URL),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error", msg),
		)
		return &Error{StatusCode: resp.StatusCode(), Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", resp.Request.URL, err)
	}
	return nil
}
