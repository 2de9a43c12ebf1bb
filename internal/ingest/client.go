// Package ingest talks to the remote batch ingestion endpoint.
package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
	"github.com/chmdznr/caracterizacion-sync/pkg/utils"
)

const (
	// BatchPath is appended to the API base URL
	BatchPath = "/caracterizaciones/lote"

	// DefaultTimeout bounds a whole batch request
	DefaultTimeout = 60 * time.Second

	// maxResponseBytes caps how much of a response body is read
	maxResponseBytes = 16 << 20
)

// TokenSource supplies the bearer token for a request. An empty token sends
// no Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds ingestion client settings
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client submits batches of records to the ingestion endpoint
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

type batchRequest struct {
	Records []models.Characterization `json:"caracterizaciones"`
}

type batchResponse struct {
	Results []models.Outcome `json:"resultados"`
}

// NewClient creates an ingestion client for the API rooted at cfg.BaseURL
func NewClient(cfg Config, tokens TokenSource, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid API base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + BatchPath,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Transport: utils.NewTransport(),
			Timeout:   cfg.Timeout,
		},
		tokens: tokens,
		logger: logger.With(slog.String("component", "ingest")),
	}, nil
}

// Endpoint returns the full batch URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SubmitBatch posts records as one batch and returns the per-record outcomes.
// Any failure to obtain a well-formed response is a TransportFailure.
func (c *Client) SubmitBatch(ctx context.Context, records []models.Characterization) ([]models.Outcome, error) {
	body, err := json.Marshal(batchRequest{Records: records})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "encode batch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "build batch request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "obtain access token", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "send batch", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "read batch response", err)
	}

	c.logger.Debug("Batch submitted",
		slog.Int("records", len(records)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.Newf(apperrors.ErrTransportFailure,
			"ingestion endpoint returned %s: %s", resp.Status, snippet(data))
	}

	var decoded batchResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "decode batch response", err)
	}
	if decoded.Results == nil {
		return nil, apperrors.New(apperrors.ErrTransportFailure, "batch response has no resultados")
	}
	return decoded.Results, nil
}

func snippet(data []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
