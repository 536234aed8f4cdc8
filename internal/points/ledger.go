// Package points keeps provider point balances and an append-only journal.
// Every movement is keyed by (kind, related id) so retries apply once.
package points

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/storage"
)

// Journal kinds.
const (
	KindDebit  = "DEBIT"
	KindRefund = "REFUND"
	KindGrant  = "GRANT"
)

var ErrInsufficient = errors.New("points: insufficient balance")

// Ledger is what the marketplace and sweeper depend on.
type Ledger interface {
	Balance(ctx context.Context, providerID string) (int64, error)
	Debit(ctx context.Context, providerID string, amount int64, reason, relatedID string) error
	Refund(ctx context.Context, providerID string, amount int64, reason, relatedID string) error
}

// SQLLedger stores balances in point_balances and the journal in
// point_transactions.
type SQLLedger struct {
	db    *sqlx.DB
	clock clock.Clock
}

func NewSQLLedger(db *sqlx.DB, clk clock.Clock) *SQLLedger {
	if clk == nil {
		clk = clock.Real()
	}
	return &SQLLedger{db: db, clock: clk}
}

func (l *SQLLedger) Balance(ctx context.Context, providerID string) (int64, error) {
	var b int64
	err := l.db.GetContext(ctx, &b, l.db.Rebind(`SELECT balance FROM point_balances WHERE provider_id = ?`), providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return b, err
}

// Debit takes amount from the balance. A repeated (DEBIT, relatedID) is a
// no-op; an insufficient balance leaves everything untouched.
func (l *SQLLedger) Debit(ctx context.Context, providerID string, amount int64, reason, relatedID string) error {
	return l.apply(ctx, providerID, -amount, KindDebit, reason, relatedID)
}

// Refund returns amount to the balance once per relatedID.
func (l *SQLLedger) Refund(ctx context.Context, providerID string, amount int64, reason, relatedID string) error {
	return l.apply(ctx, providerID, amount, KindRefund, reason, relatedID)
}

// Grant credits points, e.g. after a purchase or an admin adjustment.
func (l *SQLLedger) Grant(ctx context.Context, providerID string, amount int64, reason, relatedID string) error {
	return l.apply(ctx, providerID, amount, KindGrant, reason, relatedID)
}

func (l *SQLLedger) apply(ctx context.Context, providerID string, delta int64, kind, reason, relatedID string) error {
	if delta == 0 {
		return nil
	}
	now := l.clock.Now()
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("points begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO point_transactions (id, provider_id, amount, kind, reason, related_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), providerID, delta, kind, reason, relatedID, now)
	if storage.IsUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("points journal: %w", err)
	}

	if delta < 0 {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE point_balances SET balance = balance + ?, updated_at = ?
			WHERE provider_id = ? AND balance >= ?`),
			delta, now, providerID, -delta)
		if err != nil {
			return fmt.Errorf("points debit: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrInsufficient
		}
	} else {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO point_balances (provider_id, balance, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (provider_id) DO UPDATE SET
				balance = point_balances.balance + excluded.balance,
				updated_at = excluded.updated_at`),
			providerID, delta, now); err != nil {
			return fmt.Errorf("points credit: %w", err)
		}
	}
	return tx.Commit()
}
