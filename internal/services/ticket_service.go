package services

import (
	"context"
	"fmt"
	"time"

	"atendo/internal/models"
	"atendo/pkg/utils"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// TicketService 工单服务：创建/更新/指派/关闭，并在相应时机触发自动化事件
type TicketService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	tracer     trace.Tracer
	sla        *SLAService
	automation *AutomationService
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, logger *logrus.Logger, sla *SLAService) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}

	return &TicketService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("atendo.ticket"),
		sla:    sla,
	}
}

// SetAutomationService 注入自动化服务（与 AutomationService 相互依赖，延迟注入）
func (s *TicketService) SetAutomationService(automation *AutomationService) {
	s.automation = automation
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	SectorID    uint   `json:"sector_id" binding:"required"`
	CreatorID   uint   `json:"creator_id" binding:"required"`
	Priority    string `json:"priority"`
}

// TicketUpdateRequest 更新工单请求；nil 字段不更新
type TicketUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
	AssigneeID  *uint   `json:"assignee_id"`
}

// CreateTicket 创建工单：计算 SLA 截止时刻并触发 ticket_created 事件
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.create")
	defer span.End()

	var creator models.User
	if err := s.db.WithContext(ctx).First(&creator, req.CreatorID).Error; err != nil {
		return nil, fmt.Errorf("creator not found: %w", err)
	}
	var sector models.Sector
	if err := s.db.WithContext(ctx).First(&sector, req.SectorID).Error; err != nil {
		return nil, fmt.Errorf("sector not found: %w", err)
	}

	if req.Priority == "" {
		req.Priority = "media"
	}
	if !IsValidPriority(req.Priority) {
		return nil, fmt.Errorf("invalid priority: %s", req.Priority)
	}

	ticket := &models.Ticket{
		Title:       req.Title,
		Description: req.Description,
		SectorID:    req.SectorID,
		CreatorID:   req.CreatorID,
		Priority:    req.Priority,
		Status:      "aberto",
	}
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	span.SetAttributes(attribute.Int64("ticket.id", int64(ticket.ID)))

	// 基于营业时间计算并持久化截止时刻
	if s.sla != nil {
		if err := s.sla.ApplyDueDate(ctx, ticket); err != nil {
			s.logger.Warnf("ticket: apply due date for ticket %d: %v", ticket.ID, err)
		}
	}

	s.AppendHistory(ctx, ticket.ID, &req.CreatorID, "created", "ticket created")
	s.logger.Infof("Created ticket %d in sector %d (priority %s)", ticket.ID, ticket.SectorID, ticket.Priority)

	if s.automation != nil {
		s.automation.TriggerAutomations(ctx, EventTicketCreated, ticket)
	}
	return s.GetTicket(ctx, ticket.ID)
}

// GetTicket 根据 ID 获取工单（带评论和历史）
func (s *TicketService) GetTicket(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&ticket, ticketID).Error
	if err != nil {
		return nil, fmt.Errorf("ticket not found: %w", err)
	}
	return &ticket, nil
}

// UpdateTicket 更新工单字段；状态变化触发 status_changed，其余变化触发 ticket_updated
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID uint, req *TicketUpdateRequest, userID *uint) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.update")
	defer span.End()
	span.SetAttributes(attribute.Int64("ticket.id", int64(ticketID)))

	old, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Priority != nil {
		if !IsValidPriority(*req.Priority) {
			return nil, fmt.Errorf("invalid priority: %s", *req.Priority)
		}
		updates["priority"] = *req.Priority
	}
	if req.AssigneeID != nil {
		updates["assignee_id"] = *req.AssigneeID
	}

	statusChanged := false
	if req.Status != nil && *req.Status != old.Status {
		updates["status"] = *req.Status
		statusChanged = true
		now := time.Now()
		switch *req.Status {
		case "resolvido":
			updates["resolved_at"] = &now
		case "fechado":
			updates["closed_at"] = &now
		}
		s.AppendHistory(ctx, ticketID, userID, "status_changed",
			fmt.Sprintf("status changed from %s to %s", old.Status, *req.Status))
	}

	if len(updates) == 0 {
		return old, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Updates(updates).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}

	// 优先级变化后重新计算截止时刻
	if req.Priority != nil && *req.Priority != old.Priority && s.sla != nil {
		var fresh models.Ticket
		if err := s.db.WithContext(ctx).First(&fresh, ticketID).Error; err == nil {
			if err := s.sla.ApplyDueDate(ctx, &fresh); err != nil {
				s.logger.Warnf("ticket: recompute due date for ticket %d: %v", ticketID, err)
			}
		}
	}

	updated, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if s.automation != nil {
		if statusChanged {
			s.automation.TriggerAutomations(ctx, EventStatusChanged, updated)
		} else {
			s.automation.TriggerAutomations(ctx, EventTicketUpdated, updated)
		}
	}
	return updated, nil
}

// AssignTicket 指派工单处理人并记录历史
func (s *TicketService) AssignTicket(ctx context.Context, ticketID, assigneeID uint, actorID *uint) error {
	var assignee models.User
	if err := s.db.WithContext(ctx).First(&assignee, assigneeID).Error; err != nil {
		return fmt.Errorf("assignee not found: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Update("assignee_id", assigneeID).Error; err != nil {
		return fmt.Errorf("failed to assign ticket: %w", err)
	}

	s.AppendHistory(ctx, ticketID, actorID, "assigned", fmt.Sprintf("assigned to user %d", assigneeID))
	s.logger.Infof("Assigned ticket %d to user %d", ticketID, assigneeID)
	return nil
}

// CloseTicket 关闭工单并触发 status_changed 事件
func (s *TicketService) CloseTicket(ctx context.Context, ticketID uint, actorID *uint, reason string) error {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Updates(map[string]interface{}{
			"status":    "fechado",
			"closed_at": &now,
		}).Error; err != nil {
		return fmt.Errorf("failed to close ticket: %w", err)
	}

	detail := "ticket closed"
	if reason != "" {
		detail = fmt.Sprintf("ticket closed: %s", reason)
	}
	s.AppendHistory(ctx, ticketID, actorID, "closed", detail)

	if s.automation != nil {
		if ticket, err := s.GetTicket(ctx, ticketID); err == nil {
			s.automation.TriggerAutomations(ctx, EventStatusChanged, ticket)
		}
	}
	return nil
}

// AddComment 添加评论并触发 comment_added 事件
func (s *TicketService) AddComment(ctx context.Context, ticketID, userID uint, content, kind string) (*models.TicketComment, error) {
	if !utils.ValidateComment(content) {
		return nil, fmt.Errorf("comment content must be between 1 and 4096 bytes")
	}
	if kind == "" {
		kind = "comment"
	}
	comment := &models.TicketComment{
		TicketID:  ticketID,
		UserID:    userID,
		Content:   content,
		Type:      kind,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}

	if s.automation != nil {
		if ticket, err := s.GetTicket(ctx, ticketID); err == nil {
			s.automation.TriggerAutomations(ctx, EventCommentAdded, ticket)
		}
	}
	return comment, nil
}

// AppendHistory 追加一条工单历史（只追加，失败仅记日志）
func (s *TicketService) AppendHistory(ctx context.Context, ticketID uint, userID *uint, action, detail string) {
	history := &models.TicketHistory{
		TicketID:  ticketID,
		UserID:    userID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(history).Error; err != nil {
		s.logger.Warnf("ticket: append history for ticket %d: %v", ticketID, err)
	}
}

// ListTickets 按部门/状态过滤列出工单
func (s *TicketService) ListTickets(ctx context.Context, sectorID uint, status string, limit int) ([]models.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&models.Ticket{})
	if sectorID != 0 {
		query = query.Where("sector_id = ?", sectorID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var tickets []models.Ticket
	if err := query.Order("created_at DESC").Limit(limit).Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}
