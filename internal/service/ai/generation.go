package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kinechat/internal/config"
	"kinechat/internal/logger"
	"kinechat/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Generator produces the answer text for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt models.PromptContext) (string, error)
}

// GeminiGenerator calls generateContent on the Gemini API.
type GeminiGenerator struct {
	client  *genai.Client
	initErr error
	model   string
	timeout time.Duration
	params  *genai.GenerateContentConfig
}

// NewGeminiGenerator never fails on a missing key; Generate reports it.
func NewGeminiGenerator(ctx context.Context, cfg config.GenerationConfig, httpClient *http.Client) *GeminiGenerator {
	client, err := newGeminiClient(ctx, cfg.APIKey, cfg.BaseURL, cfg.APIVersion, httpClient)
	if err != nil {
		logger.FromCtx(ctx).Warn().Err(err).Str("model", cfg.Model).Msg("generation client disabled")
	}
	return &GeminiGenerator{
		client:  client,
		initErr: err,
		model:   cfg.Model,
		timeout: cfg.Timeout(),
		params: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(cfg.Temperature),
			TopK:            genai.Ptr(cfg.TopK),
			TopP:            genai.Ptr(cfg.TopP),
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt models.PromptContext) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("generate: %w: %w", models.ErrGenerationUnavailable, g.initErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(callCtx, g.model, genai.Text(prompt.Prompt), g.params)
	if err != nil {
		return "", classify(callCtx, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("generate: %w", models.ErrGenerationEmpty)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("generate: %w: candidate had no text", models.ErrGenerationEmpty)
	}
	return text, nil
}

// ChatModelGenerator adapts an eino chat model (OpenAI, Claude) to Generator.
type ChatModelGenerator struct {
	provider string
	model    model.BaseChatModel
	initErr  error
	timeout  time.Duration
}

func (g *ChatModelGenerator) Generate(ctx context.Context, prompt models.PromptContext) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("generate (%s): %w: %w", g.provider, models.ErrGenerationUnavailable, g.initErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.model.Generate(callCtx, []*schema.Message{schema.UserMessage(prompt.Prompt)})
	if err != nil {
		return "", classify(callCtx, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("generate (%s): %w", g.provider, models.ErrGenerationEmpty)
	}
	return strings.TrimSpace(msg.Content), nil
}

func classify(callCtx context.Context, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("generate: %w: %w", models.ErrGenerationTimeout, err)
	}
	return fmt.Errorf("generate: %w: %w", models.ErrGenerationUnavailable, err)
}
