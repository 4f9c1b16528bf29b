// Package storage - known-message dedup set, mirrored from the in-memory
// LRU cache so a restart does not immediately re-process recently seen
// broadcasts (spec.md §9 open question on the known-message set).
package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordKnownMessage marks messageHash as seen, ignoring a duplicate insert.
func (s *Storage) RecordKnownMessage(messageHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO known_messages (message_hash, seen_at) VALUES (?, ?)
		ON CONFLICT(message_hash) DO NOTHING
	`, messageHash, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record known message: %w", err)
	}
	return nil
}

// HasSeenMessage reports whether messageHash was already recorded.
func (s *Storage) HasSeenMessage(messageHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hash string
	err := s.db.QueryRow(`SELECT message_hash FROM known_messages WHERE message_hash = ?`, messageHash).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check known message: %w", err)
	}
	return true, nil
}

// PruneKnownMessages deletes entries older than cutoff, bounding table
// growth independently of the in-memory LRU cap.
func (s *Storage) PruneKnownMessages(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM known_messages WHERE seen_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune known messages: %w", err)
	}
	return result.RowsAffected()
}

// RecentKnownMessages returns up to limit of the most recently seen message
// hashes, used to warm the in-memory LRU on startup.
func (s *Storage) RecentKnownMessages(limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT message_hash FROM known_messages ORDER BY seen_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent known messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan known message: %w", err)
		}
		out = append(out, hash)
	}
	return out, nil
}
