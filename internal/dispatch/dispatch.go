// Package dispatch delivers user notifications over the configured channels.
// Delivery is advisory: failures are logged and counted, never returned to
// the operation that triggered them.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
)

// Notification kinds.
const (
	KindRequestCreated      = "REQUEST_CREATED"
	KindOfferReceived       = "OFFER_RECEIVED"
	KindOfferAccepted       = "OFFER_ACCEPTED"
	KindOfferRejected       = "OFFER_REJECTED"
	KindOfferExpired        = "OFFER_EXPIRED"
	KindEngagementCreated   = "ENGAGEMENT_CREATED"
	KindCompletionReported  = "COMPLETION_REPORTED"
	KindEngagementCompleted = "ENGAGEMENT_COMPLETED"
	KindEngagementCancelled = "ENGAGEMENT_CANCELLED"
)

// Notice is the user-independent part of a notification.
type Notice struct {
	Kind  string
	Title string
	Body  string
	Data  map[string]string
}

// Notifier is what services depend on.
type Notifier interface {
	NotifyOne(ctx context.Context, userID string, n Notice)
	NotifyMany(ctx context.Context, userIDs []string, n Notice)
}

// Channel is one delivery path.
type Channel interface {
	Name() string
	Send(ctx context.Context, n models.Notification) error
}

// BatchChannel is a Channel that can take many notifications in one call.
type BatchChannel interface {
	Channel
	SendBatch(ctx context.Context, msgs []models.Notification) error
}

// Fanout stamps each notice per recipient and hands it to every channel.
type Fanout struct {
	channels []Channel
	clock    clock.Clock
	log      *slog.Logger
}

func NewFanout(clk clock.Clock, log *slog.Logger, channels ...Channel) *Fanout {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{channels: channels, clock: clk, log: log}
}

func (f *Fanout) NotifyOne(ctx context.Context, userID string, n Notice) {
	if userID == "" {
		return
	}
	f.deliver(ctx, []models.Notification{f.stamp(userID, n)})
}

// NotifyMany stamps one notification per recipient. Batch channels get them
// in a single call.
func (f *Fanout) NotifyMany(ctx context.Context, userIDs []string, n Notice) {
	msgs := make([]models.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			msgs = append(msgs, f.stamp(id, n))
		}
	}
	f.deliver(ctx, msgs)
}

func (f *Fanout) stamp(userID string, n Notice) models.Notification {
	return models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		Data:      models.StringMap(n.Data),
		CreatedAt: f.clock.Now(),
	}
}

func (f *Fanout) deliver(ctx context.Context, msgs []models.Notification) {
	if len(msgs) == 0 {
		return
	}
	for _, ch := range f.channels {
		if b, ok := ch.(BatchChannel); ok && len(msgs) > 1 {
			if err := b.SendBatch(ctx, msgs); err != nil {
				f.failed(ch, msgs[0], len(msgs), err)
			}
			continue
		}
		for _, msg := range msgs {
			if err := ch.Send(ctx, msg); err != nil {
				f.failed(ch, msg, 1, err)
			}
		}
	}
}

func (f *Fanout) failed(ch Channel, msg models.Notification, count int, err error) {
	observability.NotifyErrors.WithLabelValues(ch.Name()).Add(float64(count))
	f.log.Warn("notify failed", "channel", ch.Name(), "user_id", msg.UserID, "kind", msg.Kind, "count", count, "err", err)
}

// LogChannel writes notifications to the log. Used when nothing else is
// configured.
type LogChannel struct {
	Log *slog.Logger
}

func (LogChannel) Name() string { return "log" }

func (l LogChannel) Send(_ context.Context, n models.Notification) error {
	l.Log.Info("notification", "user_id", n.UserID, "kind", n.Kind, "id", n.ID)
	return nil
}

// Saver persists notifications for the in-app inbox.
type Saver interface {
	InsertNotification(ctx context.Context, n *models.Notification) (bool, error)
}

// StoreChannel writes straight to the notifications table. The API uses it
// when Kafka is not configured; the consumer uses it otherwise.
type StoreChannel struct {
	Store Saver
}

func (StoreChannel) Name() string { return "store" }

func (s StoreChannel) Send(ctx context.Context, n models.Notification) error {
	_, err := s.Store.InsertNotification(ctx, &n)
	return err
}
