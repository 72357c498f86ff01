package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/storage/models"
	"github.com/entity-resolver/backend/pkg/circuitbreaker"
	"github.com/entity-resolver/backend/pkg/retry"
)

// RawExtraction is the collaborator's untrusted output before
// normalization. Field presence and confidence bounds are not
// guaranteed here; the Adapter enforces both.
type RawExtraction struct {
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	Institution string  `json:"institution"`
	Locality    string  `json:"locality"`
	Handle      string  `json:"handle"`
	Confidence  float64 `json:"confidence"`
	SourceKind  string  `json:"source_kind"`
}

const extractionSystemPrompt = `You are a fact extractor for an entity resolution system.
Given a web page's text and the name of a person or organization being
researched, extract what the page says about that entity.

Return ONLY a JSON object:
{"name": "...", "role": "...", "institution": "...", "locality": "...",
 "handle": "...", "confidence": 0.0,
 "source_kind": "directory|institutional|academic|registry|other"}

Rules:
1. "name" is the subject name as written on the page.
2. Use "unknown" for any field the page does not state.
3. "confidence" in [0,1] reflects how clearly the page describes the entity.
4. "source_kind" classifies the page itself, not the entity.
Do not judge whether the page's subject is the queried entity.`

// Client wraps the language-understanding collaborator behind a
// circuit breaker and retry, the only component assumed to perform
// language understanding.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	logger      *zap.Logger
}

type ClientConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Logger      *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 600
	}

	cb := circuitbreaker.New("extraction", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           cfg.Logger,
	})

	cfg.Logger.Info("Extraction client initialized", zap.String("model", cfg.Model))

	return &Client{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
		retryConfig: retry.DefaultConfig(cfg.Logger),
		logger:      cfg.Logger,
	}
}

// ExtractProfile asks the collaborator for a structured record of what
// the text says about the queried entity.
func (c *Client) ExtractProfile(ctx context.Context, text string, q models.Query) (*RawExtraction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Entity being researched: %s\n\nPage text:\n%s", q.Name, text)

	var raw *RawExtraction
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: c.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				Temperature: c.temperature,
				MaxTokens:   c.maxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			parsed, parseErr := parseExtraction(resp.Choices[0].Message.Content)
			if parseErr != nil {
				return parseErr
			}
			raw = parsed

			c.logger.Debug("Extraction completed",
				zap.String("entity", q.Name),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return raw, nil
}

// parseExtraction tolerates code fences and leading prose around the
// JSON object.
func parseExtraction(content string) (*RawExtraction, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in extraction output")
	}

	var raw RawExtraction
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extraction output: %w", err)
	}

	return &raw, nil
}
