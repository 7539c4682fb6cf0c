// Package client talks to the SBOMer manifests API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sbomer/pkg/models"
	"sbomer/pkg/utils"
)

const (
	manifestsPath    = "/api/v1beta2/manifests"
	eventsPath       = "/ws"
	defaultUserAgent = "sbomer-cli/0.1"
	defaultTimeout   = 15 * time.Second
)

type Config struct {
	BaseURL    string
	Token      string
	UserAgent  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      RetryOptions
	Logger     *utils.Logger
}

type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	retrier    *Retrier
	log        *utils.Logger
}

// Paging selects one page. PageIndex is 0-based.
type Paging struct {
	PageSize  int
	PageIndex int
}

type ManifestsResult struct {
	Data  []models.Manifest
	Total int
}

type CreateManifestRequest struct {
	Name    string          `json:"name"`
	Version string          `json:"version,omitempty"`
	Purl    string          `json:"purl,omitempty"`
	Format  string          `json:"format,omitempty"`
	BOM     json.RawMessage `json:"bom"`
}

func New(cfg Config) (*Client, error) {
	base, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	log := cfg.Logger
	if log == nil {
		log = utils.NopLogger()
	}

	token := strings.TrimSpace(cfg.Token)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}

	return &Client{
		baseURL:    base,
		token:      token,
		userAgent:  ua,
		httpClient: httpClient,
		retrier:    NewRetrier(cfg.Retry),
		log:        log.WithComponent("client"),
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidBaseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidBaseURL)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetManifests fetches one page of manifests matching queryType/queryValue.
func (c *Client) GetManifests(ctx context.Context, paging Paging, queryType models.QueryType, queryValue string) (*ManifestsResult, error) {
	if paging.PageIndex < 0 || paging.PageSize < 1 {
		return nil, fmt.Errorf("%w: pageIndex=%d pageSize=%d", ErrInvalidPaging, paging.PageIndex, paging.PageSize)
	}

	qv := url.Values{}
	qv.Set("pageIndex", strconv.Itoa(paging.PageIndex))
	qv.Set("pageSize", strconv.Itoa(paging.PageSize))
	if queryType != models.QueryTypeNoFilter {
		qv.Set("queryType", string(queryType))
		qv.Set("queryValue", queryValue)
	}

	var page models.Page[models.Manifest]
	if err := c.doJSON(ctx, http.MethodGet, manifestsPath+"?"+qv.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &ManifestsResult{Data: page.Content, Total: page.TotalHits}, nil
}

func (c *Client) GetManifest(ctx context.Context, id string) (*models.Manifest, error) {
	var m models.Manifest
	if err := c.doJSON(ctx, http.MethodGet, manifestsPath+"/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetManifestBOM returns the raw BOM document.
func (c *Client) GetManifestBOM(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, manifestsPath+"/"+url.PathEscape(id)+"/bom", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) CreateManifest(ctx context.Context, req CreateManifestRequest) (*models.Manifest, error) {
	var m models.Manifest
	if err := c.doJSON(ctx, http.MethodPost, manifestsPath, req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) DeleteManifest(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, manifestsPath+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	return c.retrier.Do(ctx, func() error {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
			return err
		}
		defer resp.Body.Close()

		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("latency", time.Since(start)).
			Msg("request")

		if resp.StatusCode >= 300 {
			return decodeAPIError(resp)
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
