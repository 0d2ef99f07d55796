package services

import (
	"context"
	"fmt"
	"time"

	"atendo/internal/metrics"
	"atendo/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// escalationCooldown 重复升级保护窗口：同一工单在该窗口内最多升级一次。
// 这是启发式去重而非分布式锁；两个扫描实例并发运行时仍可能重复升级。
const escalationCooldown = 2 * time.Hour

// EscalationService 到期升级监控服务
type EscalationService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	tracer     trace.Tracer
	notifier   *NotificationService
	automation *AutomationService
}

// NewEscalationService 创建升级监控服务
func NewEscalationService(db *gorm.DB, logger *logrus.Logger, notifier *NotificationService) *EscalationService {
	if logger == nil {
		logger = logrus.New()
	}

	return &EscalationService{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("atendo.escalation"),
		notifier: notifier,
	}
}

// SetAutomationService 注入自动化服务（用于 sla_warning / sla_expired 事件）
func (s *EscalationService) SetAutomationService(automation *AutomationService) {
	s.automation = automation
}

// CheckEscalation 判断工单是否进入升级窗口：now >= 截止时刻 - 提前量。
// 未配置提前量（或升级目标）时不升级；冷却窗口内已有升级记录时跳过。
func (s *EscalationService) CheckEscalation(ctx context.Context, ticket *models.Ticket) bool {
	if ticket.DueDate == nil {
		return false
	}

	cfg := s.escalationConfig(ctx, ticket.SectorID, ticket.Priority)
	if cfg == nil || cfg.EscalationLeadHours <= 0 || cfg.EscalationTargetID == nil {
		return false
	}

	threshold := ticket.DueDate.Add(-durationFromHours(cfg.EscalationLeadHours))
	if time.Now().Before(threshold) {
		return false
	}

	var recent int64
	if err := s.db.WithContext(ctx).Model(&models.EscalationRecord{}).
		Where("ticket_id = ? AND created_at > ?", ticket.ID, time.Now().Add(-escalationCooldown)).
		Count(&recent).Error; err != nil {
		s.logger.Errorf("escalation: check recent records for ticket %d: %v", ticket.ID, err)
		return false
	}
	return recent == 0
}

// EscalateTicket 把工单转派给配置的升级目标并记录一条升级记录。
// Level 取该工单历史最大值 + 1；同时通知原处理人、创建人和新处理人。
func (s *EscalationService) EscalateTicket(ctx context.Context, ticket *models.Ticket, reason string) (*models.EscalationRecord, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.escalate")
	defer span.End()
	span.SetAttributes(attribute.Int64("escalation.ticket_id", int64(ticket.ID)))

	cfg := s.escalationConfig(ctx, ticket.SectorID, ticket.Priority)
	if cfg == nil || cfg.EscalationTargetID == nil {
		return nil, fmt.Errorf("no escalation target configured for sector %d priority %s", ticket.SectorID, ticket.Priority)
	}
	target := *cfg.EscalationTargetID

	var maxLevel int
	if err := s.db.WithContext(ctx).Model(&models.EscalationRecord{}).
		Where("ticket_id = ?", ticket.ID).
		Select("COALESCE(MAX(level), 0)").
		Scan(&maxLevel).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to resolve escalation level: %w", err)
	}

	record := &models.EscalationRecord{
		TicketID:   ticket.ID,
		FromUserID: ticket.AssigneeID,
		ToUserID:   target,
		Level:      maxLevel + 1,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create escalation record: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticket.ID).
		Update("assignee_id", target).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to reassign ticket: %w", err)
	}

	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		Action:    "escalated",
		Detail:    fmt.Sprintf("escalated to level %d: %s", record.Level, reason),
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(history).Error; err != nil {
		s.logger.Warnf("escalation: append history for ticket %d: %v", ticket.ID, err)
	}

	// 通知原处理人、创建人、新处理人；投递失败不影响升级本身
	recipients := []uint{ticket.CreatorID, target}
	if ticket.AssigneeID != nil {
		recipients = append(recipients, *ticket.AssigneeID)
	}
	ticketID := ticket.ID
	s.notifier.NotifyAll(ctx, recipients, "escalation",
		fmt.Sprintf("Ticket #%d escalated", ticket.ID),
		fmt.Sprintf("Ticket %q was escalated to level %d. Reason: %s", ticket.Title, record.Level, reason),
		&ticketID)

	s.logger.Warnf("Escalated ticket %d to user %d (level %d): %s", ticket.ID, target, record.Level, reason)
	ticket.AssigneeID = &target
	return record, nil
}

// RunSweep 扫描所有带截止时刻的未关闭工单：需要升级的升级，
// 已逾期的触发 sla_expired 自动化事件。幂等，可安全重复调用。
func (s *EscalationService) RunSweep(ctx context.Context) (checked, escalated int) {
	ctx, span := s.tracer.Start(ctx, "escalation.sweep")
	defer span.End()
	metrics.IncSweep()

	var tickets []models.Ticket
	if err := s.db.WithContext(ctx).
		Where("due_date IS NOT NULL AND status NOT IN ?", []string{"resolvido", "fechado"}).
		Find(&tickets).Error; err != nil {
		s.logger.Errorf("escalation: load tickets for sweep: %v", err)
		return 0, 0
	}

	now := time.Now()
	for i := range tickets {
		ticket := &tickets[i]
		checked++

		// SLA 暂停中的工单不计时，也不升级
		var openPauses int64
		if err := s.db.WithContext(ctx).Model(&models.SLAPause{}).
			Where("ticket_id = ? AND resumed_at IS NULL", ticket.ID).
			Count(&openPauses).Error; err != nil {
			s.logger.Errorf("escalation: check pauses for ticket %d: %v", ticket.ID, err)
			continue
		}
		if openPauses > 0 {
			continue
		}

		if s.CheckEscalation(ctx, ticket) {
			if _, err := s.EscalateTicket(ctx, ticket, "SLA deadline approaching"); err != nil {
				s.logger.Errorf("escalation: escalate ticket %d: %v", ticket.ID, err)
			} else {
				escalated++
				metrics.IncEscalation()
				if s.automation != nil {
					s.automation.TriggerAutomations(ctx, EventSLAWarning, ticket)
				}
			}
		}

		if ticket.DueDate != nil && now.After(*ticket.DueDate) && s.automation != nil {
			s.automation.TriggerAutomations(ctx, EventSLAExpired, ticket)
		}
	}

	s.logger.Infof("Escalation sweep completed: checked %d tickets, escalated %d", checked, escalated)
	span.SetAttributes(
		attribute.Int("escalation.sweep.checked", checked),
		attribute.Int("escalation.sweep.escalated", escalated),
	)
	return checked, escalated
}

// CheckNoResponseTickets 为超过 days 天无更新的未关闭工单触发
// no_response_days 自动化事件；返回触发的工单数。幂等入口，供外部调度器调用。
func (s *EscalationService) CheckNoResponseTickets(ctx context.Context, days int) int {
	ctx, span := s.tracer.Start(ctx, "escalation.no_response_check")
	defer span.End()

	if days <= 0 {
		days = 3
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var tickets []models.Ticket
	if err := s.db.WithContext(ctx).
		Where("status NOT IN ? AND updated_at < ?", []string{"resolvido", "fechado"}, cutoff).
		Find(&tickets).Error; err != nil {
		s.logger.Errorf("escalation: load stale tickets: %v", err)
		return 0
	}

	for i := range tickets {
		if s.automation != nil {
			s.automation.TriggerAutomations(ctx, EventNoResponseDays, &tickets[i])
		}
	}

	if len(tickets) > 0 {
		s.logger.Infof("No-response check: %d tickets without activity for %d days", len(tickets), days)
	}
	span.SetAttributes(attribute.Int("escalation.no_response.count", len(tickets)))
	return len(tickets)
}

// ListEscalations 返回工单的升级记录（按级别升序）
func (s *EscalationService) ListEscalations(ctx context.Context, ticketID uint) ([]models.EscalationRecord, error) {
	var records []models.EscalationRecord
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("level ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	return records, nil
}

// StartEscalationMonitor 周期性执行升级扫描，直到 ctx 取消
func (s *EscalationService) StartEscalationMonitor(ctx context.Context, interval time.Duration) {
	s.logger.Info("Starting escalation monitoring service")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Escalation monitoring service stopped")
			return
		case <-ticker.C:
			s.RunSweep(ctx)
		}
	}
}

func (s *EscalationService) escalationConfig(ctx context.Context, sectorID uint, priority string) *models.SectorPriorityConfig {
	var cfg models.SectorPriorityConfig
	err := s.db.WithContext(ctx).
		Where("sector_id = ? AND priority = ?", sectorID, priority).
		First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		s.logger.Errorf("escalation: load config for sector %d priority %s: %v", sectorID, priority, err)
		return nil
	}
	return &cfg
}
