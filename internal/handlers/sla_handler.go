package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"atendo/internal/services"

	"github.com/gin-gonic/gin"
)

// SLAHandler SLA 配置与暂停/恢复管理
type SLAHandler struct {
	slaService *services.SLAService
}

func NewSLAHandler(slaService *services.SLAService) *SLAHandler {
	return &SLAHandler{slaService: slaService}
}

// CreateConfig 创建 (部门, 优先级) SLA 配置
func (h *SLAHandler) CreateConfig(c *gin.Context) {
	var req services.SLAConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	cfg, err := h.slaService.CreateSLAConfig(c.Request.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "invalid priority") {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_PRIORITY", Message: err.Error()})
			return
		}
		if strings.Contains(err.Error(), "already exists") {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "CONFIG_EXISTS", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create config", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// ListConfigs 列出 SLA 配置
func (h *SLAHandler) ListConfigs(c *gin.Context) {
	sectorID, _ := strconv.ParseUint(c.Query("sector_id"), 10, 32)
	configs, err := h.slaService.ListSLAConfigs(c.Request.Context(), uint(sectorID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list configs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, configs)
}

// UpdateConfig 更新 SLA 配置
func (h *SLAHandler) UpdateConfig(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	var req services.SLAConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	cfg, err := h.slaService.UpdateSLAConfig(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "config not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update config", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// DeleteConfig 删除 SLA 配置
func (h *SLAHandler) DeleteConfig(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	if err := h.slaService.DeleteSLAConfig(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "config not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete config", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

type slaPauseRequest struct {
	Reason string `json:"reason"`
}

// PauseTicket 暂停工单的 SLA 计时
func (h *SLAHandler) PauseTicket(c *gin.Context) {
	ticketID, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	var req slaPauseRequest
	_ = c.ShouldBindJSON(&req)

	pause, err := h.slaService.PauseSLA(c.Request.Context(), ticketID, req.Reason)
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "already has an open") {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: "Failed to pause SLA", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, pause)
}

// ResumeTicket 恢复工单的 SLA 计时并重算截止时刻
func (h *SLAHandler) ResumeTicket(c *gin.Context) {
	ticketID, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	if !h.slaService.ResumeSLA(c.Request.Context(), ticketID) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Failed to resume SLA", Message: "no open pause for this ticket"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "resumed"})
}

// ListPauses 列出工单的暂停区间
func (h *SLAHandler) ListPauses(c *gin.Context) {
	ticketID, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	pauses, err := h.slaService.ListPauses(c.Request.Context(), ticketID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list pauses", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, pauses)
}

type duePreviewRequest struct {
	SectorID  uint   `json:"sector_id" binding:"required"`
	Priority  string `json:"priority" binding:"required"`
	CreatedAt string `json:"created_at"` // RFC3339，缺省为当前时刻
}

// PreviewDueDate 预览某个创建时刻下的截止时刻（不落库）
func (h *SLAHandler) PreviewDueDate(c *gin.Context) {
	var req duePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if !services.IsValidPriority(req.Priority) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_PRIORITY", Message: "invalid priority: " + req.Priority})
		return
	}

	createdAt := time.Now()
	if req.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid created_at", Message: "expected RFC3339 timestamp"})
			return
		}
		createdAt = parsed
	}

	due := h.slaService.CalculateDueDate(c.Request.Context(), createdAt, req.Priority, req.SectorID)
	c.JSON(http.StatusOK, gin.H{
		"created_at": createdAt,
		"due_date":   due,
		"sla_hours":  h.slaService.SLAHoursFor(c.Request.Context(), req.SectorID, req.Priority),
	})
}

// RegisterSLARoutes 注册SLA路由
func RegisterSLARoutes(r *gin.RouterGroup, handler *SLAHandler) {
	sla := r.Group("/sla")
	{
		sla.GET("/configs", handler.ListConfigs)
		sla.POST("/configs", handler.CreateConfig)
		sla.PUT("/configs/:id", handler.UpdateConfig)
		sla.DELETE("/configs/:id", handler.DeleteConfig)
		sla.POST("/preview", handler.PreviewDueDate)
	}
	tickets := r.Group("/tickets")
	{
		tickets.POST(":id/sla/pause", handler.PauseTicket)
		tickets.POST(":id/sla/resume", handler.ResumeTicket)
		tickets.GET(":id/sla/pauses", handler.ListPauses)
	}
}
