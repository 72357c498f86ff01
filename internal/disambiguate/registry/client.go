package registry

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
	"github.com/entity-resolver/backend/pkg/retry"
)

// Result is one registry query response: the full match count plus the
// returned records.
type Result struct {
	Count   int
	Records []models.RegistryRecord
}

// Client queries the external professional registry over HTTP. The
// registry returns bulk result sets directly; no fetch or extraction
// step is involved.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: retry.DefaultConfig(log),
		logger:      log,
	}
}

// Query runs one filtered registry search.
func (c *Client) Query(ctx context.Context, filters map[string]string) (*Result, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (*Result, error) {
		return c.query(ctx, filters)
	})
}

func (c *Client) query(ctx context.Context, filters map[string]string) (*Result, error) {
	params := url.Values{}
	for k, v := range filters {
		params.Add(k, v)
	}
	if c.apiKey != "" {
		params.Add("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/search?%s", c.baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}

	var payload struct {
		ResultCount int `json:"result_count"`
		Results     []struct {
			ID        string `json:"id"`
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
			Region    string `json:"region"`
			Locality  string `json:"locality"`
			Category  string `json:"category"`
			Handle    string `json:"handle"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse registry response: %w", err)
	}

	records := make([]models.RegistryRecord, 0, len(payload.Results))
	for _, r := range payload.Results {
		records = append(records, models.RegistryRecord{
			ID:        r.ID,
			GivenName: r.GivenName,
			Surname:   r.Surname,
			Region:    r.Region,
			Locality:  r.Locality,
			Category:  r.Category,
			Handle:    r.Handle,
		})
	}

	c.logger.Debug("Registry query completed",
		zap.Int("filters", len(filters)),
		zap.Int("count", payload.ResultCount),
	)

	return &Result{Count: payload.ResultCount, Records: records}, nil
}
