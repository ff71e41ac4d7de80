package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/askdb/askdb/internal/completion"
)

const providerName = "gemini"

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models contentGenerator
	model  string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithModels(client.Models, cfg.Model), nil
}

func newWithModels(models contentGenerator, model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Client{models: models, model: model}
}

func (c *Client) Complete(ctx context.Context, req completion.Request) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", completion.Wrap(providerName, classify(err), fmt.Errorf("generate content: %w", err))
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", completion.Wrap(providerName, completion.KindProvider, fmt.Errorf("empty generate content response"))
	}
	return resp.Text(), nil
}

// classify relies on the status text the API embeds in its error message.
func classify(err error) completion.Kind {
	message := err.Error()
	switch {
	case strings.Contains(message, "RESOURCE_EXHAUSTED"), strings.Contains(message, "429"):
		return completion.KindQuota
	case strings.Contains(message, "DEADLINE_EXCEEDED"):
		return completion.KindTimeout
	case strings.Contains(message, "UNAVAILABLE"), strings.Contains(message, "503"):
		return completion.KindNetwork
	default:
		return ""
	}
}
