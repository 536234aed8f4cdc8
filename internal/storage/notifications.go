package storage

import (
	"context"
	"time"

	"github.com/example/clean-matching/internal/models"
)

const notificationCols = `id, user_id, kind, title, body, data, created_at, read_at`

// InsertNotification stores n once; a redelivered id is ignored.
func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	affected, err := s.exec(ctx, `
		INSERT INTO notifications (`+notificationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.UserID, n.Kind, n.Title, n.Body, n.Data, n.CreatedAt, n.ReadAt)
	return affected == 1, err
}

// ListNotifications returns the user's latest notifications.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Notification
	err := s.sel(ctx, &out, `
		SELECT `+notificationCols+` FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?`, userID, limit)
	return out, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string, now time.Time) error {
	n, err := s.exec(ctx, `
		UPDATE notifications SET read_at = ?
		WHERE id = ? AND user_id = ? AND read_at IS NULL`, now, id, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
