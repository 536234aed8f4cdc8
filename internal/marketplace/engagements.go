package marketplace

import (
	"context"
	"fmt"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/models"
)

// GetEngagement returns an engagement to either of its parties.
func (s *Service) GetEngagement(ctx context.Context, actorID, id string) (*models.Engagement, error) {
	eng, err := s.store.GetEngagement(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrEngagementNotFound)
	}
	if actorID != eng.CustomerID && actorID != eng.ProviderID {
		return nil, apperr.ErrForbidden
	}
	return eng, nil
}

// ReportCompletion records the provider's report that the job is done. The
// customer then confirms, or the sweeper completes it after the confirm TTL.
func (s *Service) ReportCompletion(ctx context.Context, providerID, id string, images []string) (*models.Engagement, error) {
	eng, err := s.GetEngagement(ctx, providerID, id)
	if err != nil {
		return nil, err
	}
	if eng.ProviderID != providerID {
		return nil, apperr.ErrForbidden
	}
	now := s.clock.Now()
	ok, err := s.store.ReportEngagementCompletion(ctx, id, models.StringList(images), now)
	if err != nil {
		return nil, fmt.Errorf("report completion: %w", err)
	}
	if !ok {
		return nil, apperr.ErrEngagementState
	}
	eng.CompletionReportedAt = &now
	eng.CompletionImages = models.StringList(images)
	eng.UpdatedAt = now

	s.notify.NotifyOne(ctx, eng.CustomerID, dispatch.Notice{
		Kind:  dispatch.KindCompletionReported,
		Title: "Cleaning finished",
		Body:  "Please confirm the job is complete.",
		Data:  map[string]string{"engagement_id": eng.ID},
	})
	return eng, nil
}

// ConfirmCompletion is the customer's sign-off.
func (s *Service) ConfirmCompletion(ctx context.Context, customerID, id string) (*models.Engagement, error) {
	eng, err := s.GetEngagement(ctx, customerID, id)
	if err != nil {
		return nil, err
	}
	if eng.CustomerID != customerID {
		return nil, apperr.ErrForbidden
	}
	now := s.clock.Now()
	ok, err := s.store.CompleteEngagement(ctx, id, false, now)
	if err != nil {
		return nil, fmt.Errorf("complete engagement: %w", err)
	}
	if !ok {
		return nil, apperr.ErrEngagementState
	}
	eng.Status = models.EngagementCompleted
	eng.CompletedAt = &now
	eng.UpdatedAt = now

	s.notify.NotifyOne(ctx, eng.ProviderID, dispatch.Notice{
		Kind:  dispatch.KindEngagementCompleted,
		Title: "Job confirmed",
		Body:  "The customer confirmed completion.",
		Data:  map[string]string{"engagement_id": eng.ID},
	})
	return eng, nil
}

// CancelEngagement lets either party cancel until the engagement completes.
func (s *Service) CancelEngagement(ctx context.Context, actorID, id string) (*models.Engagement, error) {
	eng, err := s.GetEngagement(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	ok, err := s.store.CancelEngagement(ctx, id, actorID, now)
	if err != nil {
		return nil, fmt.Errorf("cancel engagement: %w", err)
	}
	if !ok {
		return nil, apperr.ErrEngagementState
	}
	eng.Status = models.EngagementCancelled
	eng.CancelledBy = actorID
	eng.CancelledAt = &now
	eng.UpdatedAt = now
	s.log.Info("engagement cancelled", "engagement_id", id, "by", actorID)

	other := eng.ProviderID
	if actorID == eng.ProviderID {
		other = eng.CustomerID
	}
	s.notify.NotifyOne(ctx, other, dispatch.Notice{
		Kind:  dispatch.KindEngagementCancelled,
		Title: "Booking cancelled",
		Body:  fmt.Sprintf("%s at %s was cancelled.", eng.ServiceType, eng.Address),
		Data:  map[string]string{"engagement_id": eng.ID},
	})
	return eng, nil
}
