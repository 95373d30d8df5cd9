package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/circuitbreaker"
	"github.com/biokg/backend/pkg/config"
	"github.com/biokg/backend/pkg/logger"
	"github.com/biokg/backend/pkg/retry"
)

const (
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/"
	toolName       = "biokg"
)

// Client fetches abstracts from NCBI E-utilities.
type Client struct {
	baseURL     string
	email       string
	apiKey      string
	batchSize   int
	httpClient  *http.Client
	limiter     *rate.Limiter
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg config.PubMedConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		email:      cfg.Email,
		apiKey:     cfg.APIKey,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		cb: circuitbreaker.NewCircuitBreaker("pubmed", circuitbreaker.Config{
			MaxRequests:      2,
			Interval:         time.Minute,
			Timeout:          time.Minute,
			FailureThreshold: 5,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   time.Second,
			MaxDelay:       10 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

// FetchRange returns up to max abstracts published between start and end.
// Records without abstract text are skipped.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time, max int) ([]graph.Abstract, error) {
	term := fmt.Sprintf(`"%s"[Date - Publication] : "%s"[Date - Publication]`,
		start.Format("2006/01/02"), end.Format("2006/01/02"))

	logger.Info("Searching PubMed", zap.String("term", term), zap.Int("max", max))

	ids, total, err := c.search(ctx, term, max)
	if err != nil {
		return nil, err
	}
	logger.Info("PubMed search complete", zap.Int("total", total), zap.Int("ids", len(ids)))

	var out []graph.Abstract
	for i := 0; i < len(ids); i += c.batchSize {
		j := i + c.batchSize
		if j > len(ids) {
			j = len(ids)
		}
		logger.Info("Fetching PubMed records", zap.Int("from", i+1), zap.Int("to", j))

		batch, err := c.fetch(ctx, ids[i:j])
		if err != nil {
			return out, fmt.Errorf("efetch records %d-%d: %w", i+1, j, err)
		}
		out = append(out, batch...)
	}

	logger.Info("Fetched abstracts", zap.Int("count", len(out)))
	return out, nil
}

func (c *Client) search(ctx context.Context, term string, max int) ([]string, int, error) {
	params := c.params()
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(max))

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, 0, fmt.Errorf("esearch: %w", err)
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("failed to parse esearch response: %w", err)
	}
	total, _ := strconv.Atoi(resp.ESearchResult.Count)
	ids := resp.ESearchResult.IDList
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, total, nil
}

func (c *Client) fetch(ctx context.Context, ids []string) ([]graph.Abstract, error) {
	params := c.params()
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to parse efetch response: %w", err)
	}

	out := make([]graph.Abstract, 0, len(set.Articles))
	for i := range set.Articles {
		a, ok := toAbstract(&set.Articles[i])
		if !ok {
			logger.Warn("No abstract found, skipping", zap.String("pmid", a.PMID))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) params() url.Values {
	v := url.Values{}
	v.Set("tool", toolName)
	if c.email != "" {
		v.Set("email", c.email)
	}
	if c.apiKey != "" {
		v.Set("api_key", c.apiKey)
	}
	return v
}

// get performs a rate-limited GET under the breaker and retry policy.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var body []byte
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
			if err != nil {
				return retry.Permanent(err)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Permanent(err)
				}
				return err
			}
			body = data
			return nil
		})
	})
	return body, err
}

func toAbstract(a *article) (graph.Abstract, bool) {
	mc := a.MedlineCitation
	out := graph.Abstract{
		PMID:    strings.TrimSpace(mc.PMID),
		Title:   strings.TrimSpace(mc.Article.Title),
		Journal: mc.Article.Journal.Title,
		Year:    parseYear(mc.Article.Journal.PubDate.Year, mc.Article.Journal.PubDate.MedlineDate),
	}
	if out.Journal == "" {
		out.Journal = mc.Article.Journal.ISOAbbreviation
	}

	parts := make([]string, 0, len(mc.Article.Abstract.Text))
	for _, t := range mc.Article.Abstract.Text {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if t.Label != "" {
			text = t.Label + ": " + text
		}
		parts = append(parts, text)
	}
	out.Abstract = strings.Join(parts, "\n")

	for _, au := range mc.Article.Authors {
		switch {
		case au.LastName != "" && au.Initials != "":
			out.Authors = append(out.Authors, au.LastName+" "+au.Initials)
		case au.LastName != "":
			out.Authors = append(out.Authors, au.LastName)
		case au.CollectiveName != "":
			out.Authors = append(out.Authors, au.CollectiveName)
		}
	}

	return out, out.Abstract != ""
}

// parseYear reads PubDate/Year, falling back to the leading year of a
// MedlineDate such as "2019 Nov-Dec".
func parseYear(year, medlineDate string) *int {
	for _, s := range []string{year, medlineDate} {
		s = strings.TrimSpace(s)
		if len(s) < 4 {
			continue
		}
		if y, err := strconv.Atoi(s[:4]); err == nil {
			return &y
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
