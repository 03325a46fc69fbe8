package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(messageID, conversationID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, conversation_id, received_at) VALUES (?, ?, ?)`,
		messageID, conversationID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	res, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
