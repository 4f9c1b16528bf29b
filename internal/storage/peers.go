// Package storage - address book storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAddressBookEntryNotFound is returned when an address book lookup misses.
var ErrAddressBookEntryNotFound = errors.New("address book entry not found")

// AddressBookEntry is one (currency, name, address) triple registered with
// the overlay (spec.md §4.6 "xbcAddressBookEntry").
type AddressBookEntry struct {
	Address   string
	Currency  string
	Name      string
	IsLocal   bool
	UpdatedAt time.Time
}

// UpsertAddressBookEntry inserts or refreshes an address book entry.
func (s *Storage) UpsertAddressBookEntry(e *AddressBookEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO address_book (address, currency, name, is_local, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			currency = excluded.currency,
			name = excluded.name,
			is_local = excluded.is_local,
			updated_at = excluded.updated_at
	`, e.Address, e.Currency, e.Name, boolToInt(e.IsLocal), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert address book entry: %w", err)
	}
	return nil
}

// GetAddressBookEntry retrieves an entry by address.
func (s *Storage) GetAddressBookEntry(address string) (*AddressBookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e AddressBookEntry
	var isLocal int
	var updatedAt int64

	err := s.db.QueryRow(`
		SELECT address, currency, name, is_local, updated_at
		FROM address_book WHERE address = ?
	`, address).Scan(&e.Address, &e.Currency, &e.Name, &isLocal, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAddressBookEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address book entry: %w", err)
	}

	e.IsLocal = isLocal == 1
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

// ListAddressBook returns every known address book entry.
func (s *Storage) ListAddressBook() ([]*AddressBookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT address, currency, name, is_local, updated_at FROM address_book`)
	if err != nil {
		return nil, fmt.Errorf("failed to list address book: %w", err)
	}
	defer rows.Close()

	var out []*AddressBookEntry
	for rows.Next() {
		var e AddressBookEntry
		var isLocal int
		var updatedAt int64
		if err := rows.Scan(&e.Address, &e.Currency, &e.Name, &isLocal, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan address book entry: %w", err)
		}
		e.IsLocal = isLocal == 1
		e.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &e)
	}
	return out, nil
}

// ListLocalAddresses returns every address owned by a wallet attached to
// this node, the set broadcast via xbcAddressBookEntry and registered with
// the DHT as locally deliverable.
func (s *Storage) ListLocalAddresses() ([]*AddressBookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT address, currency, name, is_local, updated_at FROM address_book WHERE is_local = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list local addresses: %w", err)
	}
	defer rows.Close()

	var out []*AddressBookEntry
	for rows.Next() {
		var e AddressBookEntry
		var isLocal int
		var updatedAt int64
		if err := rows.Scan(&e.Address, &e.Currency, &e.Name, &isLocal, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan address book entry: %w", err)
		}
		e.IsLocal = isLocal == 1
		e.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &e)
	}
	return out, nil
}
