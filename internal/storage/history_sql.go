package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"kinechat/internal/models"
)

// SQLHistory keeps turns in the messages table.
type SQLHistory struct {
	db *sql.DB
}

func NewSQLHistory(db *sql.DB) *SQLHistory {
	return &SQLHistory{db: db}
}

func (h *SQLHistory) Append(ctx context.Context, sessionID string, msg models.Message) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Recent returns the newest limit turns, oldest first.
func (h *SQLHistory) Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg := models.Message{SessionID: sessionID}
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (h *SQLHistory) Name() string { return "sql" }
