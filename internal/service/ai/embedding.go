package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kinechat/internal/config"
	"kinechat/internal/logger"
	"kinechat/internal/models"

	"google.golang.org/genai"
)

// Embedder turns text into vectors with a Gemini embedding model.
type Embedder struct {
	client    *genai.Client
	initErr   error
	model     string
	dimension int
	timeout   time.Duration
}

// NewEmbedder never fails on missing credentials; Embed reports them instead.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig, httpClient *http.Client) *Embedder {
	client, err := newGeminiClient(ctx, cfg.APIKey, cfg.BaseURL, cfg.APIVersion, httpClient)
	if err != nil {
		logger.FromCtx(ctx).Warn().Err(err).Str("model", cfg.Model).Msg("embedding client disabled")
	}
	return &Embedder{
		client:    client,
		initErr:   err,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout(),
	}
}

func (e *Embedder) Model() string  { return e.model }
func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embed: %w: empty text", models.ErrInvalidInput)
	}
	if e.client == nil {
		return nil, fmt.Errorf("embed: %w: %w", models.ErrEmbeddingUnavailable, e.initErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Models.EmbedContent(callCtx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed: %w: %w", models.ErrEmbeddingUnavailable, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed: %w: response carried no values", models.ErrEmbeddingUnavailable)
	}
	return resp.Embeddings[0].Values, nil
}
