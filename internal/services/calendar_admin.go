package services

import (
	"context"
	"fmt"
	"time"

	"atendo/internal/models"

	"gorm.io/gorm"
)

// BusinessHoursRuleRequest 创建/更新营业时间规则的请求
type BusinessHoursRuleRequest struct {
	SectorID *uint  `json:"sector_id"`
	Weekday  *int   `json:"weekday"`
	OpensAt  string `json:"opens_at"`
	ClosesAt string `json:"closes_at"`
	Active   *bool  `json:"active"`
}

// HolidayRequest 创建节假日的请求
type HolidayRequest struct {
	SectorID  *uint  `json:"sector_id"`
	Name      string `json:"name"`
	Date      string `json:"date" binding:"required"` // YYYY-MM-DD
	Recurring bool   `json:"recurring"`
}

// CreateBusinessHoursRule 新建营业时间规则；校验星期与窗口格式
func (s *CalendarService) CreateBusinessHoursRule(ctx context.Context, req *BusinessHoursRuleRequest) (*models.BusinessHoursRule, error) {
	if req.Weekday == nil || *req.Weekday < 0 || *req.Weekday > 6 {
		return nil, fmt.Errorf("weekday must be between 0 (Sunday) and 6 (Saturday)")
	}
	openMin, err := parseClock(req.OpensAt)
	if err != nil {
		return nil, fmt.Errorf("invalid opens_at: %w", err)
	}
	closeMin, err := parseClock(req.ClosesAt)
	if err != nil {
		return nil, fmt.Errorf("invalid closes_at: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("closes_at must be after opens_at")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	rule := &models.BusinessHoursRule{
		SectorID: req.SectorID,
		Weekday:  *req.Weekday,
		OpensAt:  req.OpensAt,
		ClosesAt: req.ClosesAt,
		Active:   active,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create business hours rule: %w", err)
	}
	return rule, nil
}

// ListBusinessHoursRules 列出规则；sectorID 为 0 时返回全部
func (s *CalendarService) ListBusinessHoursRules(ctx context.Context, sectorID uint) ([]models.BusinessHoursRule, error) {
	query := s.db.WithContext(ctx).Model(&models.BusinessHoursRule{})
	if sectorID != 0 {
		query = query.Where("sector_id = ? OR sector_id IS NULL", sectorID)
	}
	var rules []models.BusinessHoursRule
	if err := query.Order("weekday ASC, opens_at ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list business hours rules: %w", err)
	}
	return rules, nil
}

// UpdateBusinessHoursRule 更新规则；nil 字段保持不变
func (s *CalendarService) UpdateBusinessHoursRule(ctx context.Context, id uint, req *BusinessHoursRuleRequest) (*models.BusinessHoursRule, error) {
	var rule models.BusinessHoursRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("rule not found")
		}
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}

	if req.Weekday != nil {
		if *req.Weekday < 0 || *req.Weekday > 6 {
			return nil, fmt.Errorf("weekday must be between 0 and 6")
		}
		rule.Weekday = *req.Weekday
	}
	if req.OpensAt != "" {
		if _, err := parseClock(req.OpensAt); err != nil {
			return nil, fmt.Errorf("invalid opens_at: %w", err)
		}
		rule.OpensAt = req.OpensAt
	}
	if req.ClosesAt != "" {
		if _, err := parseClock(req.ClosesAt); err != nil {
			return nil, fmt.Errorf("invalid closes_at: %w", err)
		}
		rule.ClosesAt = req.ClosesAt
	}
	openMin, _ := parseClock(rule.OpensAt)
	closeMin, _ := parseClock(rule.ClosesAt)
	if closeMin <= openMin {
		return nil, fmt.Errorf("closes_at must be after opens_at")
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.SectorID != nil {
		rule.SectorID = req.SectorID
	}

	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return &rule, nil
}

// DeleteBusinessHoursRule 删除规则
func (s *CalendarService) DeleteBusinessHoursRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.BusinessHoursRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// CreateHoliday 新建节假日
func (s *CalendarService) CreateHoliday(ctx context.Context, req *HolidayRequest) (*models.Holiday, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date, expected YYYY-MM-DD: %w", err)
	}
	holiday := &models.Holiday{
		SectorID:  req.SectorID,
		Name:      req.Name,
		Date:      date,
		Recurring: req.Recurring,
	}
	if err := s.db.WithContext(ctx).Create(holiday).Error; err != nil {
		return nil, fmt.Errorf("failed to create holiday: %w", err)
	}
	return holiday, nil
}

// ListHolidays 列出节假日；sectorID 为 0 时返回全部
func (s *CalendarService) ListHolidays(ctx context.Context, sectorID uint) ([]models.Holiday, error) {
	query := s.db.WithContext(ctx).Model(&models.Holiday{})
	if sectorID != 0 {
		query = query.Where("sector_id = ? OR sector_id IS NULL", sectorID)
	}
	var holidays []models.Holiday
	if err := query.Order("date ASC").Find(&holidays).Error; err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	return holidays, nil
}

// DeleteHoliday 删除节假日
func (s *CalendarService) DeleteHoliday(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Holiday{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("holiday not found")
	}
	return nil
}
