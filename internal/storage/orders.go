// Package storage - pending order storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrOrderNotFound is returned when a pending order lookup misses.
var ErrOrderNotFound = errors.New("order not found")

// OrderState mirrors the client-side TransactionDescr's lifecycle labels
// (spec.md "Order (client-side view)").
type OrderState string

const (
	OrderStateNew         OrderState = "new"
	OrderStateHold        OrderState = "hold"
	OrderStateInitialized OrderState = "initialized"
	OrderStateCreated     OrderState = "created"
	OrderStateSigned      OrderState = "signed"
	OrderStateCommited    OrderState = "commited"
	OrderStateConfirmed   OrderState = "confirmed"
	OrderStateFinished    OrderState = "finished"
	OrderStateCancelled   OrderState = "cancelled"
	OrderStateDropped     OrderState = "dropped"

	// OrderStateRollback marks a client-side order whose revert transaction
	// has been broadcast after a hub-driven or self-initiated cancellation
	// (spec.md §4.5 "On xbcTransactionRollback: broadcast the signed revert
	// tx. State -> Rollback").
	OrderStateRollback OrderState = "rollback"
)

// Order is a locally held TransactionDescr: identified first by LocalId,
// re-keyed to HubId once a hub matches it.
type Order struct {
	LocalID   string
	HubID     string // empty until the hub assigns one
	HubNodeID string // the hub's own overlay NodeId, for routing replies back to it
	State     OrderState

	FromAddress  string
	FromCurrency string
	FromAmount   uint64
	ToAddress    string
	ToCurrency   string
	ToAmount     uint64

	RawPayTx    string
	RawRevertTx string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateOrder inserts a newly originated or newly relayed order.
func (s *Storage) CreateOrder(o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO pending_orders (
			local_id, hub_id, hub_node_id, state,
			from_address, from_currency, from_amount,
			to_address, to_currency, to_amount,
			raw_pay_tx, raw_revert_tx,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.LocalID, nullIfEmpty(o.HubID), nullIfEmpty(o.HubNodeID), o.State,
		o.FromAddress, o.FromCurrency, o.FromAmount,
		o.ToAddress, o.ToCurrency, o.ToAmount,
		o.RawPayTx, o.RawRevertTx,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder retrieves a pending order by its LocalId.
func (s *Storage) GetOrder(localID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanOrderRow(s.db.QueryRow(`
		SELECT local_id, hub_id, hub_node_id, state,
			from_address, from_currency, from_amount,
			to_address, to_currency, to_amount,
			raw_pay_tx, raw_revert_tx,
			created_at, updated_at
		FROM pending_orders WHERE local_id = ?
	`, localID))
}

// GetOrderByHubID retrieves a pending order by its hub-assigned id, once
// the hub has matched and renamed it (spec.md §4.4 "Joined → Hold").
func (s *Storage) GetOrderByHubID(hubID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanOrderRow(s.db.QueryRow(`
		SELECT local_id, hub_id, hub_node_id, state,
			from_address, from_currency, from_amount,
			to_address, to_currency, to_amount,
			raw_pay_tx, raw_revert_tx,
			created_at, updated_at
		FROM pending_orders WHERE hub_id = ?
	`, hubID))
}

func (s *Storage) scanOrderRow(row *sql.Row) (*Order, error) {
	var o Order
	var hubID, hubNodeID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&o.LocalID, &hubID, &hubNodeID, &o.State,
		&o.FromAddress, &o.FromCurrency, &o.FromAmount,
		&o.ToAddress, &o.ToCurrency, &o.ToAmount,
		&o.RawPayTx, &o.RawRevertTx,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	o.HubID = hubID.String
	o.HubNodeID = hubNodeID.String
	o.CreatedAt = time.Unix(createdAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)
	return &o, nil
}

// RenameOrder re-keys a pending order from its LocalId to a hub-assigned
// HubId, records the hub's own routing NodeId so later Init/Create/Sign/
// Commit replies know where to address themselves, and advances its state
// (spec.md §4.4 step 1 "Joined → Hold").
func (s *Storage) RenameOrder(localID, hubID, hubNodeID string, state OrderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE pending_orders SET hub_id = ?, hub_node_id = ?, state = ?, updated_at = ?
		WHERE local_id = ?
	`, hubID, hubNodeID, state, time.Now().Unix(), localID)
	if err != nil {
		return fmt.Errorf("failed to rename order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// UpdateOrderState advances the state of the order whose HubId is hubID.
func (s *Storage) UpdateOrderState(hubID string, state OrderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE pending_orders SET state = ?, updated_at = ? WHERE hub_id = ?
	`, state, time.Now().Unix(), hubID)
	if err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetOrderRawTxs stores the pay/revert transaction hex for an order.
func (s *Storage) SetOrderRawTxs(hubID, rawPayTx, rawRevertTx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE pending_orders SET raw_pay_tx = ?, raw_revert_tx = ?, updated_at = ?
		WHERE hub_id = ?
	`, rawPayTx, rawRevertTx, time.Now().Unix(), hubID)
	if err != nil {
		return fmt.Errorf("failed to set order raw txs: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// DeleteOrder removes a pending order by LocalId.
func (s *Storage) DeleteOrder(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM pending_orders WHERE local_id = ?", localID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ExpirePendingOrders deletes pending (not yet hub-matched) orders created
// before the given cutoff (spec.md §4.5 "eraseExpiredPendingTransactions").
func (s *Storage) ExpirePendingOrders(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM pending_orders WHERE hub_id IS NULL AND created_at < ?
	`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending orders: %w", err)
	}
	return result.RowsAffected()
}

// ListOrders returns every pending order, most recently created first.
func (s *Storage) ListOrders() ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT local_id, hub_id, hub_node_id, state,
			from_address, from_currency, from_amount,
			to_address, to_currency, to_amount,
			raw_pay_tx, raw_revert_tx,
			created_at, updated_at
		FROM pending_orders ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		var hubID, hubNodeID sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(
			&o.LocalID, &hubID, &hubNodeID, &o.State,
			&o.FromAddress, &o.FromCurrency, &o.FromAmount,
			&o.ToAddress, &o.ToCurrency, &o.ToAmount,
			&o.RawPayTx, &o.RawRevertTx,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		o.HubID = hubID.String
		o.HubNodeID = hubNodeID.String
		o.CreatedAt = time.Unix(createdAt, 0)
		o.UpdatedAt = time.Unix(updatedAt, 0)
		orders = append(orders, &o)
	}
	return orders, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
