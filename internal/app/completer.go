package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/completion/gemini"
	"github.com/askdb/askdb/internal/completion/huggingface"
	"github.com/askdb/askdb/internal/completion/openai"
	"github.com/askdb/askdb/internal/completion/ratelimit"
	"github.com/askdb/askdb/internal/config"
)

type completerFactory func(ctx context.Context, cfg config.LLMConfig) (completion.Completer, error)

// providers is the only place a vendor is chosen; everything downstream
// sees a completion.Completer.
var providers = map[string]completerFactory{
	config.ProviderOpenAI: func(_ context.Context, cfg config.LLMConfig) (completion.Completer, error) {
		return openai.New(openai.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model})
	},
	config.ProviderGemini: func(ctx context.Context, cfg config.LLMConfig) (completion.Completer, error) {
		baseURL := cfg.BaseURL
		if strings.Contains(baseURL, "api.openai.com") {
			baseURL = ""
		}
		return gemini.New(ctx, gemini.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: baseURL})
	},
	config.ProviderHuggingFace: func(_ context.Context, cfg config.LLMConfig) (completion.Completer, error) {
		return huggingface.New(huggingface.Config{APIKey: cfg.APIKey, Model: cfg.Model})
	},
}

// NewCompleter builds the configured provider, behind the rate limiter
// when a rate is set. A missing API key yields a nil completer so that
// commands which never call the model still work.
func NewCompleter(ctx context.Context, cfg config.LLMConfig) (completion.Completer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	factory, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
	completer, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s completer: %w", cfg.Provider, err)
	}
	if cfg.RatePerSecond > 0 {
		completer = ratelimit.Wrap(completer, cfg.RatePerSecond, cfg.Burst)
	}
	return completer, nil
}
