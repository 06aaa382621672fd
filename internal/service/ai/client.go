package ai

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"
)

var errMissingAPIKey = errors.New("api key not configured")

// newGeminiClient builds a Gemini API client. An empty key yields
// errMissingAPIKey so callers can degrade instead of failing at startup.
func newGeminiClient(ctx context.Context, apiKey, baseURL, apiVersion string, httpClient *http.Client) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errMissingAPIKey
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
}
