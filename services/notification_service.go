package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/repository"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationService is the read side of notifications. Read state only
// moves unread -> read.
type NotificationService interface {
	List(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	// UnreadIDs backs session reconciliation.
	UnreadIDs(ctx context.Context, userID string) ([]string, error)
	// MarkAllRead flips every notification unread at call time and returns
	// how many it flipped. Notifications created concurrently stay unread.
	MarkAllRead(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

type notificationService struct {
	notifRepo repository.NotificationRepository
	bus       EventBus
}

// NewNotificationService creates the service.
func NewNotificationService(notifRepo repository.NotificationRepository, bus EventBus) NotificationService {
	return &notificationService{notifRepo: notifRepo, bus: bus}
}

func (s *notificationService) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	return s.notifRepo.ListByUser(ctx, userID, limit)
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.notifRepo.CountUnread(ctx, userID)
}

func (s *notificationService) UnreadIDs(ctx context.Context, userID string) ([]string, error) {
	return s.notifRepo.UnreadIDs(ctx, userID)
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	ctx = context.WithoutCancel(ctx)

	ids, err := s.notifRepo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.bus.NotifyRead(ctx, userID, ids)
	return len(ids), nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return fmt.Errorf("%w: notification id is required", pkg.ErrBadRequest)
	}
	ctx = context.WithoutCancel(ctx)

	flipped, err := s.notifRepo.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if flipped {
		s.bus.NotifyRead(ctx, userID, []string{notificationID})
	}
	return nil
}
