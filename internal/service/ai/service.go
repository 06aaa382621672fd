package ai

import (
	"context"
	"fmt"
	"net/http"

	"kinechat/internal/config"
	"kinechat/internal/logger"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// NewGenerator builds the generator for cfg.Generation.Provider. Missing
// credentials produce a generator that fails every call with
// ErrGenerationUnavailable rather than an error here.
func NewGenerator(ctx context.Context, cfg *config.Config, httpClient *http.Client) (Generator, error) {
	provider := cfg.Generation.Provider
	if provider == "gemini" {
		return NewGeminiGenerator(ctx, cfg.Generation, httpClient), nil
	}

	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	gen := &ChatModelGenerator{provider: provider, timeout: cfg.Generation.Timeout()}
	if provCfg.APIKey == "" {
		gen.initErr = errMissingAPIKey
		logger.FromCtx(ctx).Warn().Str("provider", provider).Msg("generation client disabled: api key not configured")
		return gen, nil
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:    provCfg.BaseURL,
			Model:      provCfg.Model,
			APIKey:     provCfg.APIKey,
			HTTPClient: httpClient,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: int(cfg.Generation.MaxOutputTokens),
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	gen.model = chatModel
	return gen, nil
}
