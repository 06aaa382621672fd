package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kinechat/internal/models"
	"kinechat/internal/redis"
)

const redisHistoryPrefix = "kinechat:history:"

// RedisHistory keeps each session as a capped JSON list with a sliding TTL.
type RedisHistory struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
}

func NewRedisHistory(client *redis.Client, maxTurns int, ttl time.Duration) *RedisHistory {
	return &RedisHistory{client: client, maxTurns: maxTurns, ttl: ttl}
}

func historyKey(sessionID string) string {
	return redisHistoryPrefix + sessionID
}

func (h *RedisHistory) Append(ctx context.Context, sessionID string, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := h.client.AppendCapped(ctx, historyKey(sessionID), int64(h.maxTurns), h.ttl, data); err != nil {
		return fmt.Errorf("append redis history: %w", err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	raw, err := h.client.Tail(ctx, historyKey(sessionID), int64(limit))
	if err != nil {
		if err == redis.ErrCacheMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("load redis history: %w", err)
	}
	out := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode redis history: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Clear drops a session's history.
func (h *RedisHistory) Clear(ctx context.Context, sessionID string) error {
	return h.client.Del(ctx, historyKey(sessionID))
}

func (h *RedisHistory) Name() string { return "redis" }
