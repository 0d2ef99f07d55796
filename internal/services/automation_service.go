package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"atendo/internal/metrics"
	"atendo/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// 自动化引擎识别的工单生命周期事件
const (
	EventTicketCreated  = "ticket_created"
	EventTicketUpdated  = "ticket_updated"
	EventStatusChanged  = "status_changed"
	EventCommentAdded   = "comment_added"
	EventSLAWarning     = "sla_warning"
	EventSLAExpired     = "sla_expired"
	EventNoResponseDays = "no_response_days"
)

// IsSupportedEvent 事件是否在识别的触发事件集合内
func IsSupportedEvent(event string) bool {
	switch event {
	case EventTicketCreated, EventTicketUpdated, EventStatusChanged,
		EventCommentAdded, EventSLAWarning, EventSLAExpired, EventNoResponseDays:
		return true
	default:
		return false
	}
}

// RuleCondition 规则条件；全部条件按 AND 组合
type RuleCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"` // equals, not_equals, contains, not_contains, starts_with, ends_with, greater_than, less_than, in, not_in
	Value    interface{} `json:"value"`
}

// RuleAction 规则动作；Params 按 Type 解码成对应的参数结构
type RuleAction struct {
	Type   string          `json:"type"` // assign_ticket, change_priority, change_status, send_notification, close_ticket, add_comment
	Params json.RawMessage `json:"params"`
}

// 各动作类型的参数结构
type (
	AssignTicketParams   struct {
		UserID uint `json:"user_id"`
	}
	ChangePriorityParams struct {
		Priority string `json:"priority"`
	}
	ChangeStatusParams struct {
		Status string `json:"status"`
	}
	SendNotificationParams struct {
		Recipients []uint `json:"recipients"`
		Title      string `json:"title"`
		Message    string `json:"message"`
	}
	CloseTicketParams struct {
		Reason string `json:"reason"`
	}
	AddCommentParams struct {
		Content string `json:"content"`
	}
)

// ActionResult 单个动作的执行结果
type ActionResult struct {
	Success bool
	Message string
}

// AutomationService 规则触发、条件评估与动作执行
type AutomationService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	notifier *NotificationService
}

// NewAutomationService 创建自动化服务
func NewAutomationService(db *gorm.DB, logger *logrus.Logger, notifier *NotificationService) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}

	return &AutomationService{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("atendo.automation"),
		notifier: notifier,
	}
}

// TriggerAutomations 对一个事件依次执行匹配的规则。
// 规则按 priority 升序串行执行，可观察的副作用（历史、日志）同序落地；
// 未激活的规则记一条 skipped 审计后跳过。单条规则失败不影响后续规则。
func (s *AutomationService) TriggerAutomations(ctx context.Context, event string, ticket *models.Ticket) {
	ctx, span := s.tracer.Start(ctx, "automation.trigger")
	defer span.End()
	span.SetAttributes(attribute.String("automation.event", event))

	if !IsSupportedEvent(event) {
		s.logger.Warnf("automation: unsupported event %q ignored", event)
		return
	}
	if ticket == nil {
		return
	}

	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("event = ?", event).
		Order("priority ASC, id ASC").
		Find(&rules).Error; err != nil {
		s.logger.Warnf("automation: load rules for event %s failed: %v", event, err)
		return
	}
	if len(rules) == 0 {
		return
	}

	for i := range rules {
		outcome, message := s.executeRule(ctx, &rules[i], ticket)
		s.recordExecution(ctx, rules[i].ID, ticket.ID, outcome, message)
	}
	span.SetAttributes(attribute.Int("automation.rules", len(rules)))
}

// executeRule 评估并执行一条规则，返回结果与审计消息；不写审计行
func (s *AutomationService) executeRule(ctx context.Context, rule *models.AutomationRule, ticket *models.Ticket) (outcome, message string) {
	if !rule.Active {
		return "skipped", "rule inactive"
	}

	var conditions []RuleCondition
	if rule.Conditions != "" {
		if err := json.Unmarshal([]byte(rule.Conditions), &conditions); err != nil {
			s.logger.Warnf("automation: invalid conditions for rule %s: %v", rule.Name, err)
			return "failed", fmt.Sprintf("invalid conditions: %v", err)
		}
	}
	if !s.evaluateConditions(conditions, ticket) {
		return "skipped", "conditions not met"
	}

	var actions []RuleAction
	if rule.Actions != "" {
		if err := json.Unmarshal([]byte(rule.Actions), &actions); err != nil {
			s.logger.Warnf("automation: invalid actions for rule %s: %v", rule.Name, err)
			return "failed", fmt.Sprintf("invalid actions: %v", err)
		}
	}
	if len(actions) == 0 {
		return "success", "no actions"
	}

	// 同一规则内的动作并发执行，互相之间没有顺序保证；
	// 部分失败不回滚已成功动作的副作用（at-least-once，非事务）
	results := make([]ActionResult, len(actions))
	var wg sync.WaitGroup
	for i := range actions {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = s.executeAction(ctx, actions[idx], ticket)
		}(i)
	}
	wg.Wait()

	failed := 0
	var messages []string
	for i, r := range results {
		if !r.Success {
			failed++
			messages = append(messages, fmt.Sprintf("%s: %s", actions[i].Type, r.Message))
		}
	}
	if failed > 0 {
		s.logger.Warnf("automation: rule %s had %d/%d failed actions", rule.Name, failed, len(actions))
		return "failed", strings.Join(messages, "; ")
	}

	s.logger.Infof("automation: rule %s executed %d actions for ticket %d", rule.Name, len(actions), ticket.ID)
	return "success", fmt.Sprintf("%d actions executed", len(actions))
}

// evaluateConditions 条件按 AND 组合；空条件列表恒为真
func (s *AutomationService) evaluateConditions(conditions []RuleCondition, ticket *models.Ticket) bool {
	for _, cond := range conditions {
		if !s.evaluateCondition(cond, ticket) {
			return false
		}
	}
	return true
}

func (s *AutomationService) evaluateCondition(cond RuleCondition, ticket *models.Ticket) bool {
	actual, ok := ticketFieldValue(ticket, cond.Field)
	if !ok {
		s.logger.Debugf("automation: unknown condition field %q", cond.Field)
		return false
	}
	expected := fmt.Sprintf("%v", cond.Value)

	switch cond.Operator {
	case "equals":
		return actual == expected
	case "not_equals":
		return actual != expected
	case "contains", "not_contains":
		// 除命中字段外，标题和描述也参与 contains 匹配
		found := strings.Contains(actual, expected) ||
			strings.Contains(ticket.Title, expected) ||
			strings.Contains(ticket.Description, expected)
		if cond.Operator == "contains" {
			return found
		}
		return !found
	case "starts_with":
		return strings.HasPrefix(actual, expected)
	case "ends_with":
		return strings.HasSuffix(actual, expected)
	case "greater_than":
		return compareNumeric(actual, expected) > 0
	case "less_than":
		return compareNumeric(actual, expected) < 0
	case "in", "not_in":
		list, ok := cond.Value.([]interface{})
		if !ok {
			s.logger.Debugf("automation: operator %s expects a list value, got %T", cond.Operator, cond.Value)
			return false
		}
		found := false
		for _, item := range list {
			if fmt.Sprintf("%v", item) == actual {
				found = true
				break
			}
		}
		if cond.Operator == "in" {
			return found
		}
		return !found
	default:
		s.logger.Debugf("automation: unknown operator %q", cond.Operator)
		return false
	}
}

// executeAction 执行单个动作：恰好一次外部变更加一条历史记录。
// 未知动作类型返回非致命的失败结果。
func (s *AutomationService) executeAction(ctx context.Context, action RuleAction, ticket *models.Ticket) ActionResult {
	switch action.Type {
	case "assign_ticket":
		var p AssignTicketParams
		if err := decodeParams(action.Params, &p); err != nil {
			return ActionResult{Message: err.Error()}
		}
		if p.UserID == 0 {
			return ActionResult{Message: "user_id param required"}
		}
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Update("assignee_id", p.UserID).Error; err != nil {
			return ActionResult{Message: err.Error()}
		}
		s.appendHistory(ctx, ticket.ID, "auto_assign", fmt.Sprintf("assigned automatically to user %d", p.UserID))
		return ActionResult{Success: true, Message: fmt.Sprintf("assigned to user %d", p.UserID)}

	case "change_priority":
		var p ChangePriorityParams
		if err := decodeParams(action.Params, &p); err != nil {
			return ActionResult{Message: err.Error()}
		}
		if p.Priority == "" {
			return ActionResult{Message: "priority param required"}
		}
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Update("priority", p.Priority).Error; err != nil {
			return ActionResult{Message: err.Error()}
		}
		s.appendHistory(ctx, ticket.ID, "auto_priority", fmt.Sprintf("priority changed automatically to %s", p.Priority))
		return ActionResult{Success: true, Message: fmt.Sprintf("priority set to %s", p.Priority)}

	case "change_status":
		var p ChangeStatusParams
		if err := decodeParams(action.Params, &p); err != nil {
			return ActionResult{Message: err.Error()}
		}
		if p.Status == "" {
			return ActionResult{Message: "status param required"}
		}
		updates := map[string]interface{}{"status": p.Status}
		if p.Status == "resolvido" {
			updates["resolved_at"] = time.Now()
		}
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Updates(updates).Error; err != nil {
			return ActionResult{Message: err.Error()}
		}
		s.appendHistory(ctx, ticket.ID, "auto_status", fmt.Sprintf("status changed automatically to %s", p.Status))
		return ActionResult{Success: true, Message: fmt.Sprintf("status set to %s", p.Status)}

	case "send_notification":
		var p SendNotificationParams
		if err := decodeParams(action.Params, &p); err != nil {
			return ActionResult{Message: err.Error()}
		}
		if len(p.Recipients) == 0 {
			return ActionResult{Message: "recipients param required"}
		}
		title := p.Title
		if title == "" {
			title = fmt.Sprintf("Ticket #%d", ticket.ID)
		}
		ticketID := ticket.ID
		s.notifier.NotifyAll(ctx, p.Recipients, "automation", title, p.Message, &ticketID)
		s.appendHistory(ctx, ticket.ID, "auto_notify", fmt.Sprintf("notification sent to %d recipients", len(p.Recipients)))
		return ActionResult{Success: true, Message: fmt.Sprintf("notified %d recipients", len(p.Recipients))}

	case "close_ticket":
		var p CloseTicketParams
		if err := decodeParams(action.Params, &p); err != nil {
			return ActionResult{Message: err.Error()}
		}
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Updates(map[string]interface{}{"status": "fechado", "closed_at": time.Now()}).Error; err != nil {
			return ActionResult{Message: err.Error()}
		}
		detail := "closed automatically"
		if p.Reason != "" {
			detail = fmt.Sprintf("closed automatically: %s", p.Reason)
		}
		s.appendHistory(ctx, ticket.ID, "auto_close", detail)
		return ActionResult{Success: true, Message: "ticket closed"}

	case "add_comment":
		var p AddCommentParams
		if err := decodeParams(action.Params, &p); err != nil {
			return ActionResult{Message: err.Error()}
		}
		if p.Content == "" {
			return ActionResult{Message: "content param required"}
		}
		comment := &models.TicketComment{
			TicketID:  ticket.ID,
			Content:   p.Content,
			Type:      "system",
			CreatedAt: time.Now(),
		}
		if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
			return ActionResult{Message: err.Error()}
		}
		s.appendHistory(ctx, ticket.ID, "auto_comment", "comment added automatically")
		return ActionResult{Success: true, Message: "comment added"}

	default:
		return ActionResult{Message: fmt.Sprintf("unsupported action type: %s", action.Type)}
	}
}

// recordExecution 每次规则评估恰好写一条审计记录，不论结果如何
func (s *AutomationService) recordExecution(ctx context.Context, ruleID, ticketID uint, outcome, message string) {
	log := &models.AutomationExecutionLog{
		RuleID:    ruleID,
		TicketID:  ticketID,
		Outcome:   outcome,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		s.logger.Errorf("automation: record execution for rule %d failed: %v", ruleID, err)
	}
	metrics.IncAutomationOutcome(outcome)
}

func (s *AutomationService) appendHistory(ctx context.Context, ticketID uint, action, detail string) {
	history := &models.TicketHistory{
		TicketID:  ticketID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(history).Error; err != nil {
		s.logger.Warnf("automation: append history for ticket %d: %v", ticketID, err)
	}
}

// ticketFieldValue 按条件字段名取工单快照上的值
func ticketFieldValue(ticket *models.Ticket, field string) (string, bool) {
	switch field {
	case "priority":
		return ticket.Priority, true
	case "status":
		return ticket.Status, true
	case "title":
		return ticket.Title, true
	case "description":
		return ticket.Description, true
	case "sector_id":
		return strconv.FormatUint(uint64(ticket.SectorID), 10), true
	case "creator_id":
		return strconv.FormatUint(uint64(ticket.CreatorID), 10), true
	case "assignee_id":
		if ticket.AssigneeID == nil {
			return "", true
		}
		return strconv.FormatUint(uint64(*ticket.AssigneeID), 10), true
	default:
		return "", false
	}
}

// compareNumeric 双方都是数字时按数值比较，否则按字典序
func compareNumeric(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa > fb:
			return 1
		case fa < fb:
			return -1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
