package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"atendo/internal/services"

	"github.com/gin-gonic/gin"
)

// TicketHandler 工单管理处理器
type TicketHandler struct {
	ticketService *services.TicketService
}

func NewTicketHandler(ticketService *services.TicketService) *TicketHandler {
	return &TicketHandler{ticketService: ticketService}
}

// CreateTicket 创建工单
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ticket, err := h.ticketService.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Reference not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// GetTicket 获取工单详情
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	ticket, err := h.ticketService.GetTicket(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ListTickets 列出工单
func (h *TicketHandler) ListTickets(c *gin.Context) {
	sectorID, _ := strconv.ParseUint(c.Query("sector_id"), 10, 32)
	limit, _ := strconv.Atoi(c.Query("limit"))
	tickets, err := h.ticketService.ListTickets(c.Request.Context(), uint(sectorID), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list tickets", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, tickets)
}

// UpdateTicket 更新工单
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	var req services.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ticket, err := h.ticketService.UpdateTicket(c.Request.Context(), id, &req, actorID(c))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

type assignRequest struct {
	AssigneeID uint `json:"assignee_id" binding:"required"`
}

// AssignTicket 指派工单
func (h *TicketHandler) AssignTicket(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := h.ticketService.AssignTicket(c.Request.Context(), id, req.AssigneeID, actorID(c)); err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to assign ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "assigned"})
}

type closeRequest struct {
	Reason string `json:"reason"`
}

// CloseTicket 关闭工单
func (h *TicketHandler) CloseTicket(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	var req closeRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.ticketService.CloseTicket(c.Request.Context(), id, actorID(c), req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to close ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "closed"})
}

type commentRequest struct {
	UserID  uint   `json:"user_id" binding:"required"`
	Content string `json:"content" binding:"required"`
	Type    string `json:"type"`
}

// AddComment 添加评论
func (h *TicketHandler) AddComment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	comment, err := h.ticketService.AddComment(c.Request.Context(), id, req.UserID, req.Content, req.Type)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to add comment", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// actorID 从请求头取操作人 ID；没有认证层，仅作审计归属
func actorID(c *gin.Context) *uint {
	v := c.GetHeader("X-User-ID")
	if v == "" {
		return nil
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return nil
	}
	uid := uint(id)
	return &uid
}

// RegisterTicketRoutes 注册工单路由
func RegisterTicketRoutes(r *gin.RouterGroup, handler *TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.GET("", handler.ListTickets)
		tickets.POST("", handler.CreateTicket)
		tickets.GET(":id", handler.GetTicket)
		tickets.PUT(":id", handler.UpdateTicket)
		tickets.POST(":id/assign", handler.AssignTicket)
		tickets.POST(":id/close", handler.CloseTicket)
		tickets.POST(":id/comments", handler.AddComment)
	}
}
