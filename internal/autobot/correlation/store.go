// Package correlation persists the link between a vendor-issued incident ID
// and the chat context that should receive a later delivery confirmation.
//
// The dispatcher writes a record right after a successful path-test
// submission; the confirmation webhook receiver reads it, possibly minutes
// later, to route the confirmation back to the originating room. Expiry is enforced by the store itself: Get never
// returns a record past its deadline, even if the row is still physically
// present. No explicit delete is performed; TTL is the only cleanup.
package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long a correlation record stays readable.
const DefaultTTL = time.Hour

// ErrNotFound is returned by Get for unknown or expired incident IDs.
// Callers treat it as "stale or unrelated confirmation" and drop the event.
var ErrNotFound = errors.New("correlation record not found")

// Record links one dispatched path test to its chat context.
type Record struct {
	// IncidentID is the vendor-issued tracking identifier (primary key).
	IncidentID string
	// DeliveryURL points at the vendor's delivery report for the test.
	DeliveryURL string
	// ChannelID is the chat room the confirmation should be posted to.
	ChannelID string
	// ExpiresAt is when the record becomes unreadable.
	ExpiresAt time.Time
}

// Store persists correlation records in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store backed by the given database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Put writes (or overwrites) the record for rec.IncidentID with the given
// TTL. Pass 0 to use DefaultTTL. At most one record exists per incident ID.
func (s *Store) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	if rec.IncidentID == "" {
		return fmt.Errorf("correlation: incident ID must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expiresAt := s.now().UTC().Add(ttl)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO path_tests (id, expires_at, delivery_url, channel_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			expires_at = excluded.expires_at,
			delivery_url = excluded.delivery_url,
			channel_id = excluded.channel_id
	`, rec.IncidentID, expiresAt, rec.DeliveryURL, rec.ChannelID)
	if err != nil {
		return fmt.Errorf("correlation: put %s: %w", rec.IncidentID, err)
	}
	return nil
}

// Get returns the record for the given incident ID, or ErrNotFound when the
// ID is unknown or the record has expired.
func (s *Store) Get(ctx context.Context, incidentID string) (*Record, error) {
	rec := &Record{IncidentID: incidentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT expires_at, delivery_url, channel_id
		FROM path_tests
		WHERE id = ? AND expires_at > ?
	`, incidentID, s.now().UTC()).Scan(&rec.ExpiresAt, &rec.DeliveryURL, &rec.ChannelID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("correlation: get %s: %w", incidentID, err)
	}
	return rec, nil
}

// ActiveCount returns the number of records still within their TTL.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM path_tests WHERE expires_at > ?
	`, s.now().UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("correlation: count: %w", err)
	}
	return n, nil
}
