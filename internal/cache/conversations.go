package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

// SaveConversations upserts summaries by id. A cached completion is
// never reverted by an older snapshot.
func (s *Store) SaveConversations(ctx context.Context, conversations []models.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}
	cachedAt := formatTime(time.Now())

	return s.transaction(ctx, func(tx *sql.Tx) error {
		for i := range conversations {
			next := conversations[i].Clone()
			if next.ID == "" {
				continue
			}

			prev, err := loadConversation(ctx, tx, next.ID)
			switch {
			case errors.Is(err, models.ErrNotFound):
			case err != nil:
				return err
			default:
				trade.Merge(&prev, &next)
			}

			data, err := encodeBlob(next)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversations (id, last_message_at, is_completed, data, cached_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					last_message_at = excluded.last_message_at,
					is_completed = excluded.is_completed,
					data = excluded.data,
					cached_at = excluded.cached_at
			`, next.ID, nullableTime(next.LastActivity()), boolToInt(next.IsCompleted), data, cachedAt); err != nil {
				return fmt.Errorf("failed to store conversation %s: %w", next.ID, err)
			}
		}
		return nil
	})
}

// Conversation returns one cached summary.
func (s *Store) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	if s == nil || s.db == nil {
		return models.Conversation{}, ErrClosed
	}
	return loadConversation(ctx, s.db, id)
}

// ListConversations returns cached summaries, most recent activity
// first; conversations without messages sort last.
func (s *Store) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM conversations
		ORDER BY last_message_at IS NULL, last_message_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		var conv models.Conversation
		if err := decodeBlob(data, &conv); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return out, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadConversation(ctx context.Context, q queryRower, id string) (models.Conversation, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM conversations WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	var conv models.Conversation
	if err := decodeBlob(data, &conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}
