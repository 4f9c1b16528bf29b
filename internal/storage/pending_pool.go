// Package storage - hub-side pending pool operations. Distinct from
// pending_orders (the client-side TransactionDescr table): this is the
// hub's own matching pool of provisional, not-yet-joined orders, keyed by
// the mirror-fingerprint scheme spec.md's tryJoin uses (spec.md §3
// Invariants, §4.4 "Matching").
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPendingEntryNotFound is returned when a pending-pool lookup misses.
var ErrPendingEntryNotFound = errors.New("pending pool entry not found")

// PendingEntry is one not-yet-joined order sitting in the hub's matching
// pool, installed under its own OrderFingerprint and looked up by another
// arriving order's MirrorFingerprint (spec.md "tryJoin").
type PendingEntry struct {
	OrderID     string
	SourceNode  string // the overlay NodeId of the process that announced this order, for routing replies
	Fingerprint string // hex nodeid.OrderFingerprint(srcCur,srcAmt,dstCur,dstAmt)
	SourceAddr  string
	SourceCur   string
	SourceAmt   uint64
	DestAddr    string
	DestCur     string
	DestAmt     uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertPendingEntry installs a new pending-pool entry, or — if orderID
// already has one — refreshes its timestamp in place (spec.md §4.4 tie-break
// (a): "Duplicate xbcTransaction with the same id: treated as a timestamp
// refresh of the pending entry").
func (s *Storage) UpsertPendingEntry(e *PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO hub_pending_pool (
			order_id, source_node, fingerprint,
			source_addr, source_cur, source_amt,
			dest_addr, dest_cur, dest_amt,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET updated_at = excluded.updated_at
	`,
		e.OrderID, e.SourceNode, e.Fingerprint,
		e.SourceAddr, e.SourceCur, e.SourceAmt,
		e.DestAddr, e.DestCur, e.DestAmt,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pending pool entry: %w", err)
	}
	return nil
}

// FindByMirrorFingerprint returns the oldest pending entry whose own
// Fingerprint equals mirrorFingerprint — the counterpart tryJoin is looking
// for — or ErrPendingEntryNotFound if none exists.
func (s *Storage) FindByMirrorFingerprint(mirrorFingerprint string) (*PendingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanPendingRow(s.db.QueryRow(`
		SELECT order_id, source_node, fingerprint,
			source_addr, source_cur, source_amt,
			dest_addr, dest_cur, dest_amt,
			created_at, updated_at
		FROM hub_pending_pool WHERE fingerprint = ? ORDER BY created_at ASC LIMIT 1
	`, mirrorFingerprint))
}

// GetPendingEntry retrieves a pending-pool entry by order id.
func (s *Storage) GetPendingEntry(orderID string) (*PendingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanPendingRow(s.db.QueryRow(`
		SELECT order_id, source_node, fingerprint,
			source_addr, source_cur, source_amt,
			dest_addr, dest_cur, dest_amt,
			created_at, updated_at
		FROM hub_pending_pool WHERE order_id = ?
	`, orderID))
}

func (s *Storage) scanPendingRow(row *sql.Row) (*PendingEntry, error) {
	var e PendingEntry
	var createdAt, updatedAt int64
	err := row.Scan(
		&e.OrderID, &e.SourceNode, &e.Fingerprint,
		&e.SourceAddr, &e.SourceCur, &e.SourceAmt,
		&e.DestAddr, &e.DestCur, &e.DestAmt,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPendingEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending pool entry: %w", err)
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

// DeletePendingEntry removes a pending-pool entry by order id, e.g. once it
// has been matched into an active Transaction, or evicted as stale
// (spec.md §4.4 tie-break (b)).
func (s *Storage) DeletePendingEntry(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM hub_pending_pool WHERE order_id = ?", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete pending pool entry: %w", err)
	}
	return nil
}

// ExpirePendingPoolEntries deletes hub-side pending-pool entries older than
// cutoff (spec.md §4.5 "eraseExpiredPendingTransactions"), returning the
// count removed.
func (s *Storage) ExpirePendingPoolEntries(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM hub_pending_pool WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending pool entries: %w", err)
	}
	return result.RowsAffected()
}

// ListPendingPool returns every entry currently in the hub's matching pool.
func (s *Storage) ListPendingPool() ([]*PendingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT order_id, source_node, fingerprint,
			source_addr, source_cur, source_amt,
			dest_addr, dest_cur, dest_amt,
			created_at, updated_at
		FROM hub_pending_pool ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending pool: %w", err)
	}
	defer rows.Close()

	var out []*PendingEntry
	for rows.Next() {
		var e PendingEntry
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&e.OrderID, &e.SourceNode, &e.Fingerprint,
			&e.SourceAddr, &e.SourceCur, &e.SourceAmt,
			&e.DestAddr, &e.DestCur, &e.DestAmt,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending pool entry: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		e.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &e)
	}
	return out, nil
}
