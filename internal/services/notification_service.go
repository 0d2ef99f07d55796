package services

import (
	"context"
	"time"

	"atendo/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationService 通知落库服务。
// 只负责写入通知记录并打日志，投递由外部渠道消费；所有错误就地吞掉，
// 不向调用链上抛（fire-and-forget）。
type NotificationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewNotificationService(db *gorm.DB, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{db: db, logger: logger}
}

// Notify 为单个接收者写入一条通知
func (s *NotificationService) Notify(ctx context.Context, recipientID uint, kind, title, message string, ticketID *uint) {
	if recipientID == 0 {
		return
	}

	n := &models.Notification{
		RecipientID: recipientID,
		Type:        kind,
		Title:       title,
		Message:     message,
		TicketID:    ticketID,
		DedupeKey:   uuid.NewString(),
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		s.logger.Warnf("notification: store for recipient %d failed: %v", recipientID, err)
		return
	}

	s.logger.Infof("Notification queued: recipient=%d, type=%s, title=%s", recipientID, kind, title)
}

// NotifyAll 给一组接收者发送同一条通知，去重后逐个写入
func (s *NotificationService) NotifyAll(ctx context.Context, recipientIDs []uint, kind, title, message string, ticketID *uint) {
	seen := make(map[uint]bool, len(recipientIDs))
	for _, id := range recipientIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		s.Notify(ctx, id, kind, title, message, ticketID)
	}
}

// RecentForRecipient 返回接收者最近的通知（新的在前）
func (s *NotificationService) RecentForRecipient(ctx context.Context, recipientID uint, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	var notifications []models.Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}
