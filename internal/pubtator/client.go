package pubtator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/metrics"
	"github.com/biokg/backend/pkg/circuitbreaker"
	"github.com/biokg/backend/pkg/logger"
	"github.com/biokg/backend/pkg/retry"
)

const DefaultBaseURL = "https://www.ncbi.nlm.nih.gov/research/pubtator3-api/"

// Cache stores lookup results by entity name.
type Cache interface {
	GetExternalIDs(ctx context.Context, name string) ([]string, bool, error)
	SetExternalIDs(ctx context.Context, name string, ids []string) error
}

type Client struct {
	baseURL     string
	limit       int
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	cache       Cache
}

type autocompleteItem struct {
	ID        string `json:"id"`
	LegacyID  string `json:"_id"`
	Name      string `json:"name"`
	Biotype   string `json:"biotype"`
	DBID      string `json:"db_id"`
	Namespace string `json:"db"`
}

// NewClient builds a PubTator3 client. cache may be nil.
func NewClient(baseURL string, limit int, timeout time.Duration, cache Cache) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if limit <= 0 {
		limit = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		limit:      limit,
		httpClient: &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker("pubtator", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   250 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
		cache: cache,
	}
}

// FindExternalIDs returns PubTator identifiers for name, best match first.
func (c *Client) FindExternalIDs(ctx context.Context, name string) ([]string, error) {
	if c.cache != nil {
		ids, ok, err := c.cache.GetExternalIDs(ctx, name)
		switch {
		case err != nil:
			logger.Warn("Normalization cache read failed", zap.String("name", name), zap.Error(err))
		case ok:
			metrics.CacheHits.WithLabelValues("pubtator").Inc()
			return ids, nil
		default:
			metrics.CacheMisses.WithLabelValues("pubtator").Inc()
		}
	}

	var ids []string
	err := c.cb.Execute(ctx, func() error {
		var err error
		ids, err = retry.DoWithResult(ctx, c.retryConfig, func() ([]string, error) {
			return c.autocomplete(ctx, name)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetExternalIDs(ctx, name, ids); err != nil {
			logger.Warn("Normalization cache write failed", zap.String("name", name), zap.Error(err))
		}
	}
	return ids, nil
}

func (c *Client) autocomplete(ctx context.Context, name string) ([]string, error) {
	params := url.Values{}
	params.Set("query", name)
	params.Set("limit", strconv.Itoa(c.limit))
	endpoint := c.baseURL + "entity/autocomplete/?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("autocomplete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("autocomplete returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var items []autocompleteItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode autocomplete response: %w", err))
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := item.ID
		if id == "" {
			id = item.LegacyID
		}
		if id != "" {
			ids = append(ids, id)
		}
	}

	logger.Debug("PubTator lookup", zap.String("name", name), zap.Int("ids", len(ids)))
	return ids, nil
}
