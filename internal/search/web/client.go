package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/storage/models"
	"github.com/entity-resolver/backend/pkg/circuitbreaker"
	"github.com/entity-resolver/backend/pkg/retry"
)

// Client queries the SerpAPI search endpoint. It implements
// search.Provider.
type Client struct {
	apiKey      string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	logger      *zap.Logger
}

func NewClient(apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cb: circuitbreaker.New("search", circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           log,
		}),
		retryConfig: retry.DefaultConfig(log),
		logger:      log,
	}
}

// Search runs one query and returns at most maxResults evidence
// sources. Provider errors surface to the orchestrator, which drops
// the affected query rather than failing the batch.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]models.EvidenceSource, error) {
	var sources []models.EvidenceSource
	err := c.cb.Execute(ctx, func() error {
		var opErr error
		sources, opErr = retry.DoWithResult(ctx, c.retryConfig, func() ([]models.EvidenceSource, error) {
			return c.search(ctx, query, maxResults)
		})
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

func (c *Client) search(ctx context.Context, query string, maxResults int) ([]models.EvidenceSource, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.apiKey)
	params.Add("num", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("https://serpapi.com/search?%s", params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	sources := make([]models.EvidenceSource, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		if r.Link == "" {
			continue
		}
		sources = append(sources, models.EvidenceSource{
			URL:     r.Link,
			Title:   r.Title,
			Snippet: r.Snippet,
		})
	}

	c.logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("results", len(sources)),
	)

	return sources, nil
}
