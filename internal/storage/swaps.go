// Package storage - active hub-side Transaction storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTransactionNotFound is returned when an active transaction lookup misses.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionState mirrors the hub-side Transaction's eight-phase lifecycle
// (spec.md §4.4), plus the Cancelled/Dropped terminal states.
type TransactionState string

const (
	TxStateNew         TransactionState = "new"
	TxStateJoined      TransactionState = "joined"
	TxStateHold        TransactionState = "hold"
	TxStateInitialized TransactionState = "initialized"
	TxStateCreated     TransactionState = "created"
	TxStateSigned      TransactionState = "signed"
	TxStateCommited    TransactionState = "commited"
	TxStateConfirmed   TransactionState = "confirmed"
	TxStateFinished    TransactionState = "finished"
	TxStateCancelled   TransactionState = "cancelled"
	TxStateDropped     TransactionState = "dropped"
)

// Member holds one side's addresses, currency, and amount within a matched
// Transaction (spec.md "Swap (hub-side) — Transaction").
type Member struct {
	OrderID     string
	SourceAddr  string
	DestAddr    string
	Currency    string
	Amount      uint64
	RawPayTx    string
	RawRevertTx string
	TxHash      string
	Ack         bool

	// Confirmed marks that an xbcReceivedTransaction observation has
	// already been counted for this side (spec.md S6 "a third spurious
	// xbcReceivedTransaction{hash=h1} is a no-op") — distinct from Ack,
	// which is reset on every state advance while Confirmed persists for
	// the lifetime of the Commited phase.
	Confirmed bool
}

// Transaction is the hub-side view of a matched swap.
type Transaction struct {
	HubID  string
	State  TransactionState
	First  Member
	Second Member

	ConfirmationCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateTransaction inserts a newly joined Transaction (spec.md "tryJoin").
func (s *Storage) CreateTransaction(tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO active_transactions (
			hub_id, state,
			first_order_id, first_source_addr, first_dest_addr, first_currency, first_amount,
			first_raw_pay_tx, first_raw_revert_tx, first_tx_hash, first_ack, first_confirmed,
			second_order_id, second_source_addr, second_dest_addr, second_currency, second_amount,
			second_raw_pay_tx, second_raw_revert_tx, second_tx_hash, second_ack, second_confirmed,
			confirmation_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.HubID, tx.State,
		tx.First.OrderID, tx.First.SourceAddr, tx.First.DestAddr, tx.First.Currency, tx.First.Amount,
		tx.First.RawPayTx, tx.First.RawRevertTx, tx.First.TxHash, boolToInt(tx.First.Ack), boolToInt(tx.First.Confirmed),
		tx.Second.OrderID, tx.Second.SourceAddr, tx.Second.DestAddr, tx.Second.Currency, tx.Second.Amount,
		tx.Second.RawPayTx, tx.Second.RawRevertTx, tx.Second.TxHash, boolToInt(tx.Second.Ack), boolToInt(tx.Second.Confirmed),
		tx.ConfirmationCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves an active Transaction by hub id.
func (s *Storage) GetTransaction(hubID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tx Transaction
	var firstAck, secondAck, firstConfirmed, secondConfirmed int
	var createdAt, updatedAt int64

	err := s.db.QueryRow(`
		SELECT hub_id, state,
			first_order_id, first_source_addr, first_dest_addr, first_currency, first_amount,
			first_raw_pay_tx, first_raw_revert_tx, first_tx_hash, first_ack, first_confirmed,
			second_order_id, second_source_addr, second_dest_addr, second_currency, second_amount,
			second_raw_pay_tx, second_raw_revert_tx, second_tx_hash, second_ack, second_confirmed,
			confirmation_count, created_at, updated_at
		FROM active_transactions WHERE hub_id = ?
	`, hubID).Scan(
		&tx.HubID, &tx.State,
		&tx.First.OrderID, &tx.First.SourceAddr, &tx.First.DestAddr, &tx.First.Currency, &tx.First.Amount,
		&tx.First.RawPayTx, &tx.First.RawRevertTx, &tx.First.TxHash, &firstAck, &firstConfirmed,
		&tx.Second.OrderID, &tx.Second.SourceAddr, &tx.Second.DestAddr, &tx.Second.Currency, &tx.Second.Amount,
		&tx.Second.RawPayTx, &tx.Second.RawRevertTx, &tx.Second.TxHash, &secondAck, &secondConfirmed,
		&tx.ConfirmationCount, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	tx.First.Ack = firstAck == 1
	tx.Second.Ack = secondAck == 1
	tx.First.Confirmed = firstConfirmed == 1
	tx.Second.Confirmed = secondConfirmed == 1
	tx.CreatedAt = time.Unix(createdAt, 0)
	tx.UpdatedAt = time.Unix(updatedAt, 0)
	return &tx, nil
}

// UpdateTransactionState advances the state field, resetting both ack
// flags (spec.md §4.4 "Two-sided advance": "on both-set, state advances and
// flags reset").
func (s *Storage) UpdateTransactionState(hubID string, state TransactionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE active_transactions
		SET state = ?, first_ack = 0, second_ack = 0, updated_at = ?
		WHERE hub_id = ?
	`, state, time.Now().Unix(), hubID)
	if err != nil {
		return fmt.Errorf("failed to update transaction state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// SetAck sets the ack flag for first (isFirst=true) or second member.
func (s *Storage) SetAck(hubID string, isFirst bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	column := "second_ack"
	if isFirst {
		column = "first_ack"
	}
	result, err := s.db.Exec(fmt.Sprintf(`
		UPDATE active_transactions SET %s = 1, updated_at = ? WHERE hub_id = ?
	`, column), time.Now().Unix(), hubID)
	if err != nil {
		return fmt.Errorf("failed to set ack: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// BothAcked reports whether both members have acked the current state.
func (s *Storage) BothAcked(hubID string) (bool, error) {
	tx, err := s.GetTransaction(hubID)
	if err != nil {
		return false, err
	}
	return tx.First.Ack && tx.Second.Ack, nil
}

// SetMemberRawTxs stores one side's raw (pay, revert) transaction hex,
// produced by that member's xbcTransactionCreate reply (spec.md §4.4 step
// 3) or, with rawPayHex left empty, the counterparty's signed revert
// handed back via xbcTransactionSigned (step 4 — the signed revert is
// recorded against the OTHER member's row, since it is that member's
// transaction being signed).
func (s *Storage) SetMemberRawTxs(hubID string, isFirst bool, rawPayHex, rawRevertHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payColumn, revertColumn := "second_raw_pay_tx", "second_raw_revert_tx"
	if isFirst {
		payColumn, revertColumn = "first_raw_pay_tx", "first_raw_revert_tx"
	}

	if rawPayHex == "" {
		result, err := s.db.Exec(fmt.Sprintf(`
			UPDATE active_transactions SET %s = ?, updated_at = ? WHERE hub_id = ?
		`, revertColumn), rawRevertHex, time.Now().Unix(), hubID)
		if err != nil {
			return fmt.Errorf("failed to set member raw revert tx: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return ErrTransactionNotFound
		}
		return nil
	}

	result, err := s.db.Exec(fmt.Sprintf(`
		UPDATE active_transactions SET %s = ?, %s = ?, updated_at = ? WHERE hub_id = ?
	`, payColumn, revertColumn), rawPayHex, rawRevertHex, time.Now().Unix(), hubID)
	if err != nil {
		return fmt.Errorf("failed to set member raw txs: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// SetMemberTxHash records the self-reported broadcast tx hash for one side
// (the hash a member claims for its own pay transaction, e.g. in
// xbcTransactionCommited). It does not touch the confirmation counter —
// only ConfirmMember, driven by an independently observed
// xbcReceivedTransaction, does that.
func (s *Storage) SetMemberTxHash(hubID string, isFirst bool, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	column := "second_tx_hash"
	if isFirst {
		column = "first_tx_hash"
	}
	result, err := s.db.Exec(fmt.Sprintf(`
		UPDATE active_transactions SET %s = ?, updated_at = ? WHERE hub_id = ?
	`, column), txHash, time.Now().Unix(), hubID)
	if err != nil {
		return fmt.Errorf("failed to set member tx hash: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// ConfirmMember idempotently records an xbcReceivedTransaction observation
// for one side and bumps the shared confirmation counter exactly once per
// side (spec.md §8 scenario S6: "a third spurious xbcReceivedTransaction{
// hash=h1} is a no-op"). It no-ops if the side is already marked Confirmed,
// or if txHash does not match the hash previously recorded via
// SetMemberTxHash for that side.
func (s *Storage) ConfirmMember(hubID string, isFirst bool, txHash string) (confirmed bool, count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashColumn, confirmedColumn := "second_tx_hash", "second_confirmed"
	if isFirst {
		hashColumn, confirmedColumn = "first_tx_hash", "first_confirmed"
	}

	var storedHash string
	var alreadyConfirmed int
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s, %s FROM active_transactions WHERE hub_id = ?`, hashColumn, confirmedColumn), hubID)
	if scanErr := row.Scan(&storedHash, &alreadyConfirmed); scanErr == sql.ErrNoRows {
		return false, 0, ErrTransactionNotFound
	} else if scanErr != nil {
		return false, 0, fmt.Errorf("failed to read member tx hash: %w", scanErr)
	}

	if alreadyConfirmed == 1 || storedHash != txHash {
		var existing int
		if cErr := s.db.QueryRow(`SELECT confirmation_count FROM active_transactions WHERE hub_id = ?`, hubID).Scan(&existing); cErr != nil {
			return false, 0, fmt.Errorf("failed to read confirmation count: %w", cErr)
		}
		return false, existing, nil
	}

	result, err := s.db.Exec(fmt.Sprintf(`
		UPDATE active_transactions
		SET %s = 1, confirmation_count = confirmation_count + 1, updated_at = ?
		WHERE hub_id = ?
	`, confirmedColumn), time.Now().Unix(), hubID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to confirm member: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, 0, ErrTransactionNotFound
	}

	if err := s.db.QueryRow(`SELECT confirmation_count FROM active_transactions WHERE hub_id = ?`, hubID).Scan(&count); err != nil {
		return false, 0, fmt.Errorf("failed to read confirmation count: %w", err)
	}
	return true, count, nil
}

// GetTransactionByTxHash finds the active transaction whose first or second
// side has previously recorded txHash via SetMemberTxHash (spec.md §4.4
// step 6: the wallet-scanner's xbcReceivedTransaction path looks a swap up
// by the on-chain hash a member self-reported in xbcTransactionCommited).
func (s *Storage) GetTransactionByTxHash(txHash string) (*Transaction, error) {
	s.mu.RLock()
	var hubID string
	err := s.db.QueryRow(`
		SELECT hub_id FROM active_transactions
		WHERE first_tx_hash = ? OR second_tx_hash = ?
		LIMIT 1
	`, txHash, txHash).Scan(&hubID)
	s.mu.RUnlock()

	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by tx hash: %w", err)
	}
	return s.GetTransaction(hubID)
}

// DeleteTransaction removes a Finished, Cancelled, or Dropped record
// (spec.md §4.4 "Terminal transitions" — removed on the next timer sweep).
func (s *Storage) DeleteTransaction(hubID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM active_transactions WHERE hub_id = ?", hubID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// ListTransactionsByState returns every active transaction in the given
// state, used by the timer sweep (checkFinishedTransactions).
func (s *Storage) ListTransactionsByState(state TransactionState) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT hub_id, state,
			first_order_id, first_source_addr, first_dest_addr, first_currency, first_amount,
			first_raw_pay_tx, first_raw_revert_tx, first_tx_hash, first_ack, first_confirmed,
			second_order_id, second_source_addr, second_dest_addr, second_currency, second_amount,
			second_raw_pay_tx, second_raw_revert_tx, second_tx_hash, second_ack, second_confirmed,
			confirmation_count, created_at, updated_at
		FROM active_transactions WHERE state = ?
	`, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactionRows(rows)
}

// ListExpiredTransactions returns active transactions created before cutoff
// that have not reached a terminal state, for the timer sweep's TTL
// enforcement (spec.md §5 "Per-transaction timeout").
func (s *Storage) ListExpiredTransactions(cutoff time.Time) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT hub_id, state,
			first_order_id, first_source_addr, first_dest_addr, first_currency, first_amount,
			first_raw_pay_tx, first_raw_revert_tx, first_tx_hash, first_ack, first_confirmed,
			second_order_id, second_source_addr, second_dest_addr, second_currency, second_amount,
			second_raw_pay_tx, second_raw_revert_tx, second_tx_hash, second_ack, second_confirmed,
			confirmation_count, created_at, updated_at
		FROM active_transactions
		WHERE created_at < ? AND state NOT IN (?, ?, ?)
	`, cutoff.Unix(), TxStateFinished, TxStateCancelled, TxStateDropped)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactionRows(rows)
}

func scanTransactionRows(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		var tx Transaction
		var firstAck, secondAck, firstConfirmed, secondConfirmed int
		var createdAt, updatedAt int64

		if err := rows.Scan(
			&tx.HubID, &tx.State,
			&tx.First.OrderID, &tx.First.SourceAddr, &tx.First.DestAddr, &tx.First.Currency, &tx.First.Amount,
			&tx.First.RawPayTx, &tx.First.RawRevertTx, &tx.First.TxHash, &firstAck, &firstConfirmed,
			&tx.Second.OrderID, &tx.Second.SourceAddr, &tx.Second.DestAddr, &tx.Second.Currency, &tx.Second.Amount,
			&tx.Second.RawPayTx, &tx.Second.RawRevertTx, &tx.Second.TxHash, &secondAck, &secondConfirmed,
			&tx.ConfirmationCount, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.First.Ack = firstAck == 1
		tx.Second.Ack = secondAck == 1
		tx.First.Confirmed = firstConfirmed == 1
		tx.Second.Confirmed = secondConfirmed == 1
		tx.CreatedAt = time.Unix(createdAt, 0)
		tx.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &tx)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
