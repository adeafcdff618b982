package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/logging"
)

// localToken satisfies the SDK's token check for keyless local servers.
const localToken = "local-no-key"

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	model       llms.Model
	limiter     *rate.Limiter
	temperature float64
	maxTokens   int
	jsonMode    bool
	logger      *logging.Logger
}

// NewOpenAI creates a client from the llm config section.
// An API key is required unless the endpoint is on the local host.
func NewOpenAI(cfg config.LLMConfig, logger *logging.Logger) (*OpenAIClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrConfig, cfg.BaseURL)
	}

	token := cfg.APIKey.Value()
	if token == "" {
		if !isLocalHost(u.Hostname()) {
			return nil, fmt.Errorf("%w: api key required for %s (set LLM_KEY or llm.api_key)", ErrConfig, u.Host)
		}
		token = localToken
	}

	model, err := openai.New(
		openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("llm")

	key := zap.Bool("local_token", true)
	if cfg.APIKey.Value() != "" {
		key = logging.RedactedString("api_key", token)
	}
	logger.Debug(context.Background(), "llm client configured",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
		key,
	)

	return &OpenAIClient{
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		jsonMode:    cfg.JSONMode,
		logger:      logger,
	}, nil
}

// Generate sends the conversation and returns the first choice's text.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	if req.JSON && c.jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	c.logger.Trace(ctx, "llm request", zap.String("prompt", Render(req.Messages)))

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", classify(fmt.Errorf("completion request failed: %w", err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}

	text := resp.Choices[0].Content
	c.logger.Trace(ctx, "llm response",
		zap.String("stop_reason", resp.Choices[0].StopReason),
		zap.Int("chars", len(text)),
		zap.String("body", text),
	)
	return text, nil
}

func messageType(r MessageRole) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
