package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/campusmarket/internal/models"
)

// ErrInvalidEvent is returned when an event lacks a type.
var ErrInvalidEvent = errors.New("invalid event")

// EventQuery filters RecentEvents.
type EventQuery struct {
	ConversationID string
	Types          []models.EventType
	Since          time.Time
	Limit          int
}

// Append persists an event; it makes the store an events.Sink.
// Payloads are kept as CBOR and come back as generic maps.
func (s *Store) Append(ctx context.Context, event *models.Event) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if event == nil || event.Type == "" {
		return ErrInvalidEvent
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var payload []byte
	if event.Payload != nil {
		var err error
		if payload, err = encodeBlob(event.Payload); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, type, conversation_id, timestamp, payload)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, string(event.Type), event.ConversationID, formatTime(event.Timestamp), payload)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// RecentEvents returns events oldest first.
func (s *Store) RecentEvents(ctx context.Context, q EventQuery) ([]models.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	query := `SELECT id, type, conversation_id, timestamp, payload FROM events WHERE 1=1`
	var args []any
	if q.ConversationID != "" {
		query += " AND conversation_id = ?"
		args = append(args, q.ConversationID)
	}
	if len(q.Types) > 0 {
		query += " AND type IN (?" + strings.Repeat(", ?", len(q.Types)-1) + ")"
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if !q.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(q.Since))
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			event     models.Event
			eventType string
			convID    *string
			timestamp string
			payload   []byte
		)
		if err := rows.Scan(&event.ID, &eventType, &convID, &timestamp, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		event.Type = models.EventType(eventType)
		if convID != nil {
			event.ConversationID = *convID
		}
		event.Timestamp = parseTime(timestamp)
		if len(payload) > 0 {
			var decoded any
			if err := decodeBlob(payload, &decoded); err != nil {
				return nil, err
			}
			event.Payload = decoded
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
