package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// OpenAIConfig configures an OpenAI-compatible provider. BaseURL lets the
// same client drive any OpenAI-wire-compatible endpoint.
type OpenAIConfig struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OpenAIProvider is a Provider backed by an OpenAI-compatible chat
// completions API.
type OpenAIProvider struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewOpenAIProvider builds a Provider from cfg.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIProvider{
		name:        name,
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderBadInput)
	}

	return &Result{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Provider: p.name,
		Duration: time.Since(start),
	}, nil
}

func (p *OpenAIProvider) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: 1,
		Messages:  []openai.ChatCompletionMessage{{Role: "user", Content: "ping"}},
	})
	if err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// classifyOpenAIError maps a go-openai error into the soft/hard provider
// error taxonomy: timeouts, rate limits and 5xx responses are soft (worth
// failing over to another provider), malformed requests are hard.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderRateLimited)
		case apiErr.HTTPStatusCode >= 500:
			return orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderUnavailable)
		case apiErr.HTTPStatusCode >= 400:
			return orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderBadInput)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderTimeout)
	}
	return orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderUnavailable)
}
