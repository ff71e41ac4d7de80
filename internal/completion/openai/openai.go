package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/askdb/askdb/internal/completion"
)

const providerName = "openai"

// Config covers every OpenAI-compatible endpoint (OpenAI, DeepSeek, Qwen).
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

type Client struct {
	chat  chatClient
	model string
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = goopenai.GPT4oMini
	}
	clientCfg := goopenai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &Client{chat: goopenai.NewClientWithConfig(clientCfg), model: model}, nil
}

func (c *Client) Complete(ctx context.Context, req completion.Request) (string, error) {
	resp, err := c.chat.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", completion.Wrap(providerName, classify(err), fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", completion.Wrap(providerName, completion.KindProvider, fmt.Errorf("empty chat completion choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// temperature keeps an explicit zero on the wire; the request field is
// omitempty and a dropped value means the server default.
func temperature(value float64) float32 {
	if value <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(value)
}

func classify(err error) completion.Kind {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 {
			return completion.KindNetwork
		}
		return kindForStatus(reqErr.HTTPStatusCode)
	}
	return ""
}

func kindForStatus(status int) completion.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return completion.KindQuota
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return completion.KindTimeout
	case status >= 500:
		return completion.KindNetwork
	default:
		return completion.KindProvider
	}
}
