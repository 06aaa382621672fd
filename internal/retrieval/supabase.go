package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kinechat/internal/config"
	"kinechat/internal/models"
)

var errMissingCredentials = errors.New("vector store credentials not configured")

// SupabaseStore calls a PostgREST similarity function (match_documents).
type SupabaseStore struct {
	baseURL string
	key     string
	rpc     string
	timeout time.Duration
	client  *http.Client
}

func NewSupabaseStore(cfg config.RetrievalConfig, client *http.Client) *SupabaseStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &SupabaseStore{
		baseURL: strings.TrimRight(cfg.SupabaseURL, "/"),
		key:     cfg.SupabaseKey,
		rpc:     cfg.RPCName,
		timeout: cfg.Timeout(),
		client:  client,
	}
}

func (s *SupabaseStore) Name() string { return "supabase" }

// Configured reports whether both URL and key are present.
func (s *SupabaseStore) Configured() bool { return s.baseURL != "" && s.key != "" }

type matchRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
}

type matchRow struct {
	ID         json.RawMessage `json:"id"`
	Content    string          `json:"content"`
	Metadata   map[string]any  `json:"metadata"`
	Similarity float64         `json:"similarity"`
}

func (s *SupabaseStore) Search(ctx context.Context, vector []float32, threshold float64, topK int) ([]models.RetrievalResult, error) {
	if !s.Configured() {
		return nil, errMissingCredentials
	}

	body, err := json.Marshal(matchRequest{QueryEmbedding: vector, MatchThreshold: threshold, MatchCount: topK})
	if err != nil {
		return nil, fmt.Errorf("encode match request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/rest/v1/rpc/%s", s.baseURL, s.rpc)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase rpc %s: %w", s.rpc, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("supabase rpc %s: status %d: %s", s.rpc, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rows []matchRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode supabase rows: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.RetrievalResult{
			Document: models.Document{
				ID:       strings.Trim(string(row.ID), `"`),
				Content:  row.Content,
				Metadata: row.Metadata,
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}
