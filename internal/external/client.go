// Package external talks to a remote badge tracking service.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"atbadges/internal/contextutils"
	"atbadges/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BadgeService is the capability set every external badge provider offers
type BadgeService interface {
	GetAll(ctx context.Context) ([]*models.Badge, error)
	GetByID(ctx context.Context, id string) (*models.Badge, error)
	Create(ctx context.Context, req *models.CreateBadgeRequest) (*models.Badge, error)
	Update(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error)
	UpdateProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error)
	Delete(ctx context.Context, id string) error
	// IsAvailable never fails; any probe error reads as unavailable.
	IsAvailable(ctx context.Context) bool
	// Source names the provider, stored as a badge's externalSource.
	Source() string
}

// Options configures a Client
type Options struct {
	BaseURL           string
	Source            string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client is the HTTP implementation of BadgeService. Each operation issues
// exactly one request and never retries.
type Client struct {
	baseURL    string
	source     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ BadgeService = (*Client)(nil)

// NewClient builds a client for the service rooted at opts.BaseURL
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid badge service base URL %q", opts.BaseURL)
	}

	if opts.Source == "" {
		return nil, errors.New("badge service source name is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	wrapped := *httpClient
	wrapped.Transport = &requestIDTransport{base: transport}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		baseURL:    base,
		source:     opts.Source,
		httpClient: &wrapped,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With(zap.String("badge_service", opts.Source)),
	}, nil
}

// requestIDTransport forwards the inbound request id so both services'
// logs can be correlated.
type requestIDTransport struct {
	base http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := contextutils.GetRequestID(req.Context()); id != "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-Request-ID", id)
	}
	return t.base.RoundTrip(req)
}

// Source implements BadgeService
func (c *Client) Source() string {
	return c.source
}

// GetAll implements BadgeService
func (c *Client) GetAll(ctx context.Context) ([]*models.Badge, error) {
	var payload []remoteBadge
	if err := c.do(ctx, "getAll", http.MethodGet, "/badges", nil, &payload); err != nil {
		return nil, err
	}

	badges := make([]*models.Badge, 0, len(payload))
	for i := range payload {
		badges = append(badges, payload[i].toModel())
	}
	return badges, nil
}

// GetByID implements BadgeService
func (c *Client) GetByID(ctx context.Context, id string) (*models.Badge, error) {
	var payload remoteBadge
	if err := c.do(ctx, "getById", http.MethodGet, "/badges/"+url.PathEscape(id), nil, &payload); err != nil {
		return nil, err
	}
	return payload.toModel(), nil
}

// Create implements BadgeService
func (c *Client) Create(ctx context.Context, req *models.CreateBadgeRequest) (*models.Badge, error) {
	var payload remoteBadge
	if err := c.do(ctx, "create", http.MethodPost, "/badges", req, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, &ServiceError{Op: "create", Err: errors.New("response carried no badge id")}
	}
	return payload.toModel(), nil
}

// Update implements BadgeService
func (c *Client) Update(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error) {
	var payload remoteBadge
	if err := c.do(ctx, "update", http.MethodPut, "/badges/"+url.PathEscape(id), req, &payload); err != nil {
		return nil, err
	}
	return payload.toModel(), nil
}

// UpdateProgress implements BadgeService
func (c *Client) UpdateProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error) {
	var payload remoteBadge
	if err := c.do(ctx, "updateProgress", http.MethodPatch, "/badges/"+url.PathEscape(id)+"/progress", req, &payload); err != nil {
		return nil, err
	}
	return payload.toModel(), nil
}

// Delete implements BadgeService
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, "/badges/"+url.PathEscape(id), nil, nil)
}

// IsAvailable probes GET /health
func (c *Client) IsAvailable(ctx context.Context) bool {
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil); err != nil {
		c.logger.Debug("Badge service unavailable", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ServiceError{Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &ServiceError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("Badge service call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cause := fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusNotFound {
			cause = ErrNotFound
		}
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Err: cause}
	}

	if out == nil {
		return nil
	}

	if err := decodePayload(raw, out); err != nil {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// envelope is the {success, data} wrapper some providers put around payloads
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// decodePayload accepts either a bare payload or one wrapped in an envelope
func decodePayload(raw []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return errors.New("empty response body")
	}

	if trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Success != nil {
			if !*env.Success {
				return fmt.Errorf("service reported failure: %s", string(env.Error))
			}
			if len(env.Data) > 0 {
				return json.Unmarshal(env.Data, out)
			}
		}
	}

	return json.Unmarshal(trimmed, out)
}

// remoteBadge is the wire shape of a badge owned by the remote service.
// Timestamps stay as strings since providers format them differently.
type remoteBadge struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description"`
	Content      *string                   `json:"content"`
	Progress     int                       `json:"progress"`
	Status       models.BadgeStatus        `json:"status"`
	Requirements []models.BadgeRequirement `json:"requirements"`
	CreatedAt    string                    `json:"createdAt"`
	UpdatedAt    string                    `json:"updatedAt"`
	StartDate    *string                   `json:"startDate"`
	TargetDate   *string                   `json:"targetDate"`
}

func (r *remoteBadge) toModel() *models.Badge {
	status := r.Status
	if status == "" {
		status = models.DeriveStatus(r.Progress)
	}
	badge := &models.Badge{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Content:      r.Content,
		Progress:     r.Progress,
		Status:       status,
		Requirements: models.CloneRequirements(r.Requirements),
		StartDate:    r.StartDate,
		TargetDate:   r.TargetDate,
	}
	badge.CreatedAt = parseTimestamp(r.CreatedAt)
	badge.UpdatedAt = parseTimestamp(r.UpdatedAt)
	return badge
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
