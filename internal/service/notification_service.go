package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fundilink/fundi-backend/internal/logger"
	"github.com/fundilink/fundi-backend/internal/models"
)

// NotificationRepository describes the notification store.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Pusher delivers a notification to connected clients (WebSocket hub).
type Pusher interface {
	BroadcastToUser(userID uuid.UUID, event string, data interface{}) error
}

// NotificationService stores and pushes notifications. All delivery is
// best effort: the lifecycle engine never fails an operation because a
// notification could not be saved or pushed.
type NotificationService struct {
	repo   NotificationRepository
	pusher Pusher
}

// NewNotificationService creates the notification service.
func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// SetPusher attaches the live delivery channel.
func (s *NotificationService) SetPusher(pusher Pusher) {
	s.pusher = pusher
}

// Notify persists a notification and pushes it to connected clients.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data":  data,
	})
	if err != nil {
		logger.Log.Errorf("notification service: marshal payload: %v", err)
		return
	}

	notification := &models.Notification{
		UserID:  userID,
		Payload: payload,
		IsRead:  false,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		logger.Log.Errorf("notification service: save notification: %v", err)
	}

	if s.pusher != nil {
		if err := s.pusher.BroadcastToUser(userID, event, data); err != nil {
			logger.Log.Errorf("notification service: push notification: %v", err)
		}
	}
}

// List returns a user's notifications.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead marks one notification read for its owner.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, id, userID)
}

// CountUnread returns the unread notification count.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
