package services

import (
	"context"
	"fmt"

	"atendo/internal/models"

	"gorm.io/gorm"
)

// 识别的工单优先级集合
var validPriorities = map[string]bool{
	"baixa":   true,
	"media":   true,
	"alta":    true,
	"critica": true,
}

// IsValidPriority 优先级是否合法
func IsValidPriority(priority string) bool {
	return validPriorities[priority]
}

// SLAConfigRequest 创建/更新部门优先级 SLA 配置的请求
type SLAConfigRequest struct {
	SectorID            uint     `json:"sector_id" binding:"required"`
	Priority            string   `json:"priority" binding:"required"`
	SLAHours            *float64 `json:"sla_hours"`
	EscalationLeadHours *float64 `json:"escalation_lead_hours"`
	EscalationTargetID  *uint    `json:"escalation_target_id"`
}

// CreateSLAConfig 新建 (部门, 优先级) 配置；组合重复时返回错误
func (s *SLAService) CreateSLAConfig(ctx context.Context, req *SLAConfigRequest) (*models.SectorPriorityConfig, error) {
	if !IsValidPriority(req.Priority) {
		return nil, fmt.Errorf("invalid priority: %s", req.Priority)
	}
	if req.SLAHours == nil || *req.SLAHours <= 0 {
		return nil, fmt.Errorf("sla_hours must be positive")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.SectorPriorityConfig{}).
		Where("sector_id = ? AND priority = ?", req.SectorID, req.Priority).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing config: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("config already exists for sector %d priority %s", req.SectorID, req.Priority)
	}

	cfg := &models.SectorPriorityConfig{
		SectorID:           req.SectorID,
		Priority:           req.Priority,
		SLAHours:           *req.SLAHours,
		EscalationTargetID: req.EscalationTargetID,
	}
	if req.EscalationLeadHours != nil {
		cfg.EscalationLeadHours = *req.EscalationLeadHours
	}
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to create SLA config: %w", err)
	}
	return cfg, nil
}

// ListSLAConfigs 列出配置；sectorID 为 0 时返回全部
func (s *SLAService) ListSLAConfigs(ctx context.Context, sectorID uint) ([]models.SectorPriorityConfig, error) {
	query := s.db.WithContext(ctx).Model(&models.SectorPriorityConfig{})
	if sectorID != 0 {
		query = query.Where("sector_id = ?", sectorID)
	}
	var configs []models.SectorPriorityConfig
	if err := query.Order("sector_id ASC, priority ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list SLA configs: %w", err)
	}
	return configs, nil
}

// UpdateSLAConfig 更新配置；nil 字段保持不变
func (s *SLAService) UpdateSLAConfig(ctx context.Context, id uint, req *SLAConfigRequest) (*models.SectorPriorityConfig, error) {
	var cfg models.SectorPriorityConfig
	if err := s.db.WithContext(ctx).First(&cfg, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("config not found")
		}
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if req.SLAHours != nil {
		if *req.SLAHours <= 0 {
			return nil, fmt.Errorf("sla_hours must be positive")
		}
		cfg.SLAHours = *req.SLAHours
	}
	if req.EscalationLeadHours != nil {
		cfg.EscalationLeadHours = *req.EscalationLeadHours
	}
	if req.EscalationTargetID != nil {
		cfg.EscalationTargetID = req.EscalationTargetID
	}

	if err := s.db.WithContext(ctx).Save(&cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to update SLA config: %w", err)
	}
	return &cfg, nil
}

// DeleteSLAConfig 删除配置
func (s *SLAService) DeleteSLAConfig(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.SectorPriorityConfig{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("config not found")
	}
	return nil
}
