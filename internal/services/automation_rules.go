package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"atendo/internal/models"

	"gorm.io/gorm"
)

// AutomationRuleRequest 创建/更新规则的请求
type AutomationRuleRequest struct {
	Name       string          `json:"name" binding:"required"`
	Event      string          `json:"event" binding:"required"`
	Priority   *int            `json:"priority"`
	Conditions []RuleCondition `json:"conditions"`
	Actions    []RuleAction    `json:"actions"`
	Active     *bool           `json:"active"`
}

// CreateRule 新建自动化规则
func (s *AutomationService) CreateRule(ctx context.Context, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !IsSupportedEvent(req.Event) {
		return nil, fmt.Errorf("unsupported event: %s", req.Event)
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	priority := 100
	if req.Priority != nil {
		priority = *req.Priority
	}

	rule := &models.AutomationRule{
		Name:       req.Name,
		Event:      req.Event,
		Priority:   priority,
		Active:     active,
		Conditions: string(condJSON),
		Actions:    string(actJSON),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// ListRules 返回全部规则，按事件和优先级排序
func (s *AutomationService) ListRules(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Order("event ASC, priority ASC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// GetRule 按 ID 获取规则
func (s *AutomationService) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("rule not found")
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// UpdateRule 更新规则字段；nil 字段保持不变
func (s *AutomationService) UpdateRule(ctx context.Context, id uint, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.Event != "" {
		if !IsSupportedEvent(req.Event) {
			return nil, fmt.Errorf("unsupported event: %s", req.Event)
		}
		rule.Event = req.Event
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.Conditions != nil {
		condJSON, err := json.Marshal(req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("invalid conditions: %w", err)
		}
		rule.Conditions = string(condJSON)
	}
	if req.Actions != nil {
		actJSON, err := json.Marshal(req.Actions)
		if err != nil {
			return nil, fmt.Errorf("invalid actions: %w", err)
		}
		rule.Actions = string(actJSON)
	}
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

// DeleteRule 删除规则
func (s *AutomationService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// ListExecutionLogs 返回某条规则最近的执行审计（新的在前）
func (s *AutomationService) ListExecutionLogs(ctx context.Context, ruleID uint, limit int) ([]models.AutomationExecutionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []models.AutomationExecutionLog
	if err := s.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
