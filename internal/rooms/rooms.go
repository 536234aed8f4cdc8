// Package rooms opens the chat room attached to an engagement. Message
// transport lives elsewhere; this only provisions the room record.
package rooms

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/storage"
)

type Provisioner interface {
	OpenRoom(ctx context.Context, engagementID, customerID, providerID string) (string, error)
}

// SQLProvisioner keeps one chat_rooms row per engagement.
type SQLProvisioner struct {
	db    *sqlx.DB
	clock clock.Clock
}

func NewSQLProvisioner(db *sqlx.DB, clk clock.Clock) *SQLProvisioner {
	if clk == nil {
		clk = clock.Real()
	}
	return &SQLProvisioner{db: db, clock: clk}
}

// OpenRoom returns the engagement's room id, creating it on first call.
func (p *SQLProvisioner) OpenRoom(ctx context.Context, engagementID, customerID, providerID string) (string, error) {
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO chat_rooms (id, engagement_id, customer_id, provider_id, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		id, engagementID, customerID, providerID, p.clock.Now())
	if err == nil {
		return id, nil
	}
	if !storage.IsUniqueViolation(err) {
		return "", fmt.Errorf("open room: %w", err)
	}
	var existing string
	if err := p.db.GetContext(ctx, &existing, p.db.Rebind(`SELECT id FROM chat_rooms WHERE engagement_id = ?`), engagementID); err != nil {
		return "", fmt.Errorf("load room: %w", err)
	}
	return existing, nil
}
