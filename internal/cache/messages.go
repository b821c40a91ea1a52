package cache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tOgg1/campusmarket/internal/models"
)

// SaveMessages upserts confirmed messages by id. Drafts are skipped. An
// existing row only ever gains its read flag.
func (s *Store) SaveMessages(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	err := s.transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, sender_name, content, created_at, read, is_admin, client_id, attachments, location)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET read = MAX(messages.read, excluded.read)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare message insert: %w", err)
		}
		defer stmt.Close()

		for i := range messages {
			msg := &messages[i]
			if msg.ID == "" || msg.IsDraft() {
				continue
			}

			var attachments, location []byte
			if len(msg.Attachments) > 0 {
				if attachments, err = encodeBlob(msg.Attachments); err != nil {
					return err
				}
			}
			if msg.Location != nil {
				if location, err = encodeBlob(msg.Location); err != nil {
					return err
				}
			}

			if _, err := stmt.ExecContext(ctx,
				msg.ID,
				msg.ConversationID,
				msg.Sender.ID,
				msg.Sender.Name,
				msg.Content,
				formatTime(msg.CreatedAt),
				boolToInt(msg.Read),
				boolToInt(msg.IsAdminMessage),
				msg.ClientID,
				attachments,
				location,
			); err != nil {
				return fmt.Errorf("failed to store message %s: %w", msg.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug().Int("count", len(messages)).Msg("cached messages")
	return nil
}

// ListMessages returns the cached history of a conversation in display
// order. limit <= 0 returns everything; otherwise the newest limit
// messages are returned, still oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, created_at, read, is_admin, client_id, attachments, location
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			msg         models.Message
			senderName  sql.NullString
			createdRaw  string
			read        int
			isAdmin     int
			clientID    sql.NullString
			attachments []byte
			location    []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender.ID, &senderName, &msg.Content, &createdRaw, &read, &isAdmin, &clientID, &attachments, &location); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Sender.Name = senderName.String
		msg.CreatedAt = parseTime(createdRaw)
		msg.Read = read != 0
		msg.IsAdminMessage = isAdmin != 0
		msg.ClientID = clientID.String
		if len(attachments) > 0 {
			if err := decodeBlob(attachments, &msg.Attachments); err != nil {
				return nil, err
			}
		}
		if len(location) > 0 {
			msg.Location = &models.Location{}
			if err := decodeBlob(location, msg.Location); err != nil {
				return nil, err
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	models.SortMessages(out)
	return out, nil
}
