package handlers

import (
	"net/http"
	"strconv"

	"atendo/internal/services"

	"github.com/gin-gonic/gin"
)

// EscalationHandler 升级扫描与记录查询；扫描入口供外部调度器调用
type EscalationHandler struct {
	service *services.EscalationService
}

func NewEscalationHandler(service *services.EscalationService) *EscalationHandler {
	return &EscalationHandler{service: service}
}

// RunSweep 立即执行一次升级扫描（幂等）
func (h *EscalationHandler) RunSweep(c *gin.Context) {
	checked, escalated := h.service.RunSweep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"checked":   checked,
		"escalated": escalated,
	})
}

// RunNoResponseCheck 立即执行无响应检查
func (h *EscalationHandler) RunNoResponseCheck(c *gin.Context) {
	days, _ := strconv.Atoi(c.Query("days"))
	triggered := h.service.CheckNoResponseTickets(c.Request.Context(), days)
	c.JSON(http.StatusOK, gin.H{"triggered": triggered})
}

// ListEscalations 获取工单的升级记录
func (h *EscalationHandler) ListEscalations(c *gin.Context) {
	ticketID, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	records, err := h.service.ListEscalations(c.Request.Context(), ticketID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list escalations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// RegisterEscalationRoutes 注册升级路由
func RegisterEscalationRoutes(r *gin.RouterGroup, handler *EscalationHandler) {
	esc := r.Group("/escalations")
	{
		esc.POST("/sweep", handler.RunSweep)
		esc.POST("/no-response-check", handler.RunNoResponseCheck)
	}
	r.GET("/tickets/:id/escalations", handler.ListEscalations)
}
