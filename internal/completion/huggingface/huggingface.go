package huggingface

import (
	"context"
	"fmt"
	"strings"

	hf "github.com/hupe1980/go-huggingface"

	"github.com/askdb/askdb/internal/completion"
)

const providerName = "huggingface"

type Config struct {
	APIKey string
	Model  string
}

type textGenerator interface {
	TextGeneration(ctx context.Context, req *hf.TextGenerationRequest) (hf.TextGenerationResponse, error)
}

type Client struct {
	inference textGenerator
	model     string
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	return newWithInference(hf.NewInferenceClient(strings.TrimSpace(cfg.APIKey)), cfg.Model), nil
}

func newWithInference(inference textGenerator, model string) *Client {
	return &Client{inference: inference, model: strings.TrimSpace(model)}
}

func (c *Client) Complete(ctx context.Context, req completion.Request) (string, error) {
	params := hf.TextGenerationParameters{
		ReturnFullText: boolPtr(false),
	}
	if req.MaxTokens > 0 {
		params.MaxNewTokens = intPtr(req.MaxTokens)
	}
	// The inference API rejects temperature 0; leaving it unset selects greedy decoding.
	if req.Temperature > 0 {
		params.Temperature = float64Ptr(req.Temperature)
	}

	res, err := c.inference.TextGeneration(ctx, &hf.TextGenerationRequest{
		Inputs:     req.Prompt,
		Parameters: params,
		Model:      c.model,
	})
	if err != nil {
		return "", completion.Wrap(providerName, classify(err), fmt.Errorf("text generation: %w", err))
	}
	if len(res) == 0 {
		return "", completion.Wrap(providerName, completion.KindProvider, fmt.Errorf("no text generated"))
	}
	return res[0].GeneratedText, nil
}

func classify(err error) completion.Kind {
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "rate limit"), strings.Contains(message, "429"):
		return completion.KindQuota
	case strings.Contains(message, "currently loading"), strings.Contains(message, "503"):
		return completion.KindNetwork
	default:
		return ""
	}
}

func intPtr(i int) *int {
	return &i
}

func float64Ptr(f float64) *float64 {
	return &f
}

func boolPtr(b bool) *bool {
	return &b
}
