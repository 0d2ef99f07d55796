package services

import (
	"context"
	"fmt"
	"time"

	"atendo/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// defaultSLAHours 没有任何部门/优先级配置时的兜底时限
const defaultSLAHours = 24.0

// SLAService SLA 时限计算与暂停/恢复服务
type SLAService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	calendar *CalendarService
}

// NewSLAService 创建SLA服务
func NewSLAService(db *gorm.DB, logger *logrus.Logger, calendar *CalendarService) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}

	return &SLAService{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("atendo.sla"),
		calendar: calendar,
	}
}

// SLAHoursFor 解析 (部门, 优先级) 的SLA小时数。
// 优先级配置 > 部门默认值 > 全局默认 24 小时。
func (s *SLAService) SLAHoursFor(ctx context.Context, sectorID uint, priority string) float64 {
	var cfg models.SectorPriorityConfig
	err := s.db.WithContext(ctx).
		Where("sector_id = ? AND priority = ?", sectorID, priority).
		First(&cfg).Error
	if err == nil && cfg.SLAHours > 0 {
		return cfg.SLAHours
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		s.logger.Errorf("sla: load priority config for sector %d priority %s: %v", sectorID, priority, err)
	}

	var sector models.Sector
	err = s.db.WithContext(ctx).First(&sector, sectorID).Error
	if err == nil && sector.DefaultSLAHours > 0 {
		return sector.DefaultSLAHours
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		s.logger.Errorf("sla: load sector %d: %v", sectorID, err)
	}

	return defaultSLAHours
}

// CalculateDueDate 从创建时刻起按营业时间消耗SLA小时数，得到截止时刻
func (s *SLAService) CalculateDueDate(ctx context.Context, createdAt time.Time, priority string, sectorID uint) time.Time {
	ctx, span := s.tracer.Start(ctx, "sla.calculate_due_date")
	defer span.End()

	hours := s.SLAHoursFor(ctx, sectorID, priority)
	span.SetAttributes(
		attribute.Int64("sla.sector_id", int64(sectorID)),
		attribute.String("sla.priority", priority),
		attribute.Float64("sla.hours", hours),
	)

	return s.DueDateAfter(ctx, createdAt, hours, sectorID)
}

// DueDateAfter 消耗给定的小时预算，只在营业时间内计时。
// 部门完全没有营业时间规则时退化为纯小时加法（7x24）；
// 零预算返回（可能吸附到下一个营业时刻后的）起点本身。
func (s *SLAService) DueDateAfter(ctx context.Context, createdAt time.Time, hours float64, sectorID uint) time.Time {
	if !s.calendar.HasBusinessHoursConfig(ctx, sectorID) {
		return createdAt.Add(durationFromHours(hours))
	}

	cur := createdAt
	if s.calendar.IsHoliday(ctx, cur, sectorID) || !s.calendar.IsBusinessHours(ctx, cur, sectorID) {
		cur = s.calendar.NextBusinessMoment(ctx, cur, sectorID)
	}
	if hours == 0 {
		return cur
	}

	remaining := hours
	for i := 0; i < maxCalendarWalkDays && remaining > 0; i++ {
		if s.calendar.IsHoliday(ctx, cur, sectorID) {
			cur = s.calendar.NextBusinessMoment(ctx, cur, sectorID)
			continue
		}
		closeAt, ok := s.calendar.WindowCloseAt(ctx, cur, sectorID)
		if !ok {
			cur = s.calendar.NextBusinessMoment(ctx, cur, sectorID)
			continue
		}

		available := closeAt.Sub(cur).Hours()
		if available >= remaining {
			return cur.Add(durationFromHours(remaining))
		}
		remaining -= available
		cur = s.calendar.NextBusinessMoment(ctx, closeAt, sectorID)
	}

	if remaining > 0 {
		// 推进上限用尽：剩余预算直接加到探测点上，作为尽力而为的结果
		s.logger.Warnf("sla: due date walk exhausted for sector %d; %0.2fh budget left unconsumed",
			sectorID, remaining)
		return cur.Add(durationFromHours(remaining))
	}
	return cur
}

// ApplyDueDate 计算并持久化工单的截止时刻；截止时刻不早于创建时刻
func (s *SLAService) ApplyDueDate(ctx context.Context, ticket *models.Ticket) error {
	due := s.CalculateDueDate(ctx, ticket.CreatedAt, ticket.Priority, ticket.SectorID)
	if due.Before(ticket.CreatedAt) {
		due = ticket.CreatedAt
	}
	ticket.DueDate = &due
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticket.ID).
		Update("due_date", due).Error; err != nil {
		return fmt.Errorf("failed to persist due date: %w", err)
	}
	return nil
}

// PauseSLA 为工单插入一条未恢复的暂停记录。
// 已有未恢复的暂停时返回错误；一个工单同时最多一个打开的暂停。
func (s *SLAService) PauseSLA(ctx context.Context, ticketID uint, reason string) (*models.SLAPause, error) {
	ctx, span := s.tracer.Start(ctx, "sla.pause")
	defer span.End()
	span.SetAttributes(attribute.Int64("sla.ticket_id", int64(ticketID)))

	if open, err := s.OpenPause(ctx, ticketID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, fmt.Errorf("ticket %d already has an open SLA pause", ticketID)
	}

	pause := &models.SLAPause{
		TicketID:  ticketID,
		PausedAt:  time.Now(),
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(pause).Error; err != nil {
		span.RecordError(err)
		s.logger.Errorf("sla: create pause for ticket %d: %v", ticketID, err)
		return nil, fmt.Errorf("failed to create SLA pause: %w", err)
	}

	s.logger.Infof("Paused SLA: ticket=%d, reason=%s", ticketID, reason)
	return pause, nil
}

// ResumeSLA 关闭最近一条未恢复的暂停并重算截止时刻。
//
// 重算从工单原始创建时刻出发走完整的 CalculateDueDate，不会把已暂停的时长
// 折算回预算。这是沿用的既有行为：也可以理解为“恢复即按同样规则重置时钟”，
// 是否应改为在原截止时刻上顺延暂停时长仍是悬而未决的问题。
func (s *SLAService) ResumeSLA(ctx context.Context, ticketID uint) bool {
	ctx, span := s.tracer.Start(ctx, "sla.resume")
	defer span.End()
	span.SetAttributes(attribute.Int64("sla.ticket_id", int64(ticketID)))

	open, err := s.OpenPause(ctx, ticketID)
	if err != nil || open == nil {
		return false
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.SLAPause{}).
		Where("id = ?", open.ID).
		Update("resumed_at", now).Error; err != nil {
		span.RecordError(err)
		s.logger.Errorf("sla: close pause %d: %v", open.ID, err)
		return false
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		s.logger.Errorf("sla: load ticket %d on resume: %v", ticketID, err)
		return false
	}
	if err := s.ApplyDueDate(ctx, &ticket); err != nil {
		s.logger.Errorf("sla: recompute due date for ticket %d on resume: %v", ticketID, err)
		return false
	}

	s.logger.Infof("Resumed SLA: ticket=%d, paused for %s", ticketID, now.Sub(open.PausedAt).Round(time.Second))
	return true
}

// OpenPause 返回工单当前未恢复的暂停记录；没有时返回 nil
func (s *SLAService) OpenPause(ctx context.Context, ticketID uint) (*models.SLAPause, error) {
	var pause models.SLAPause
	err := s.db.WithContext(ctx).
		Where("ticket_id = ? AND resumed_at IS NULL", ticketID).
		Order("paused_at DESC").
		First(&pause).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		s.logger.Errorf("sla: load open pause for ticket %d: %v", ticketID, err)
		return nil, fmt.Errorf("failed to load open pause: %w", err)
	}
	return &pause, nil
}

// ListPauses 返回工单的全部暂停区间（新的在前）
func (s *SLAService) ListPauses(ctx context.Context, ticketID uint) ([]models.SLAPause, error) {
	var pauses []models.SLAPause
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("paused_at DESC").
		Find(&pauses).Error; err != nil {
		return nil, fmt.Errorf("failed to list pauses: %w", err)
	}
	return pauses, nil
}

func durationFromHours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
