package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/traduki/traduki/internal/conversation"
)

// ConversationStore adapts the SQLite store to the conversation.Store
// interface. The conversation record is stored as a JSON payload with a
// version column used for optimistic concurrency.
type ConversationStore struct {
	s *Store
}

// Conversations returns the conversation.Store view of this database.
func (s *Store) Conversations() *ConversationStore {
	return &ConversationStore{s: s}
}

func (c *ConversationStore) Get(id string) (conversation.Conversation, error) {
	var payload string
	var version int64
	err := c.s.db.QueryRow(`SELECT payload, version FROM conversations WHERE id = ?`, id).Scan(&payload, &version)
	if err == sql.ErrNoRows {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Conversation{}, err
	}

	var conv conversation.Conversation
	if err := json.Unmarshal([]byte(payload), &conv); err != nil {
		return conversation.Conversation{}, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	conv.Version = version
	return conv, nil
}

func (c *ConversationStore) Put(conv conversation.Conversation) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", conv.ID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if conv.Version == 0 {
		_, err := c.s.db.Exec(`INSERT INTO conversations (id, payload, version, updated_at) VALUES (?, ?, 1, ?)`,
			conv.ID, string(payload), now)
		if err != nil {
			// A duplicate insert means someone else created the record first.
			var exists int
			if qErr := c.s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, conv.ID).Scan(&exists); qErr == nil && exists > 0 {
				return conversation.ErrVersionConflict
			}
			return err
		}
		return nil
	}

	res, err := c.s.db.Exec(`
		UPDATE conversations SET payload = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(payload), now, conv.ID, conv.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := c.s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, conv.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return conversation.ErrNotFound
		}
		return conversation.ErrVersionConflict
	}
	return nil
}

func (c *ConversationStore) Delete(id string) error {
	res, err := c.s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return conversation.ErrNotFound
	}
	return nil
}
