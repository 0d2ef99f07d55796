package handlers

import (
	"net/http"
	"strconv"
	"time"

	"atendo/internal/services"

	"github.com/gin-gonic/gin"
)

// CalendarHandler 营业时间规则与节假日管理
type CalendarHandler struct {
	service *services.CalendarService
}

func NewCalendarHandler(service *services.CalendarService) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// ListBusinessHours 列出营业时间规则
func (h *CalendarHandler) ListBusinessHours(c *gin.Context) {
	sectorID, _ := strconv.ParseUint(c.Query("sector_id"), 10, 32)
	rules, err := h.service.ListBusinessHoursRules(c.Request.Context(), uint(sectorID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateBusinessHours 创建营业时间规则
func (h *CalendarHandler) CreateBusinessHours(c *gin.Context) {
	var req services.BusinessHoursRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.CreateBusinessHoursRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateBusinessHours 更新营业时间规则
func (h *CalendarHandler) UpdateBusinessHours(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	var req services.BusinessHoursRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.UpdateBusinessHoursRule(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteBusinessHours 删除营业时间规则
func (h *CalendarHandler) DeleteBusinessHours(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	if err := h.service.DeleteBusinessHoursRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListHolidays 列出节假日
func (h *CalendarHandler) ListHolidays(c *gin.Context) {
	sectorID, _ := strconv.ParseUint(c.Query("sector_id"), 10, 32)
	holidays, err := h.service.ListHolidays(c.Request.Context(), uint(sectorID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list holidays", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, holidays)
}

// CreateHoliday 创建节假日
func (h *CalendarHandler) CreateHoliday(c *gin.Context) {
	var req services.HolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	holiday, err := h.service.CreateHoliday(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create holiday", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, holiday)
}

// DeleteHoliday 删除节假日
func (h *CalendarHandler) DeleteHoliday(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a number"})
		return
	}
	if err := h.service.DeleteHoliday(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "holiday not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete holiday", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// NextBusinessMoment 查询下一个营业时刻（调试/预览用）
func (h *CalendarHandler) NextBusinessMoment(c *gin.Context) {
	sectorID, _ := strconv.ParseUint(c.Query("sector_id"), 10, 32)
	from := time.Now()
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid from", Message: "expected RFC3339 timestamp"})
			return
		}
		from = parsed
	}

	next := h.service.NextBusinessMoment(c.Request.Context(), from, uint(sectorID))
	c.JSON(http.StatusOK, gin.H{
		"from":              from,
		"next":              next,
		"is_business_hours": h.service.IsBusinessHours(c.Request.Context(), from, uint(sectorID)),
		"is_holiday":        h.service.IsHoliday(c.Request.Context(), from, uint(sectorID)),
	})
}

// RegisterCalendarRoutes 注册日历路由
func RegisterCalendarRoutes(r *gin.RouterGroup, handler *CalendarHandler) {
	hours := r.Group("/business-hours")
	{
		hours.GET("", handler.ListBusinessHours)
		hours.POST("", handler.CreateBusinessHours)
		hours.PUT(":id", handler.UpdateBusinessHours)
		hours.DELETE(":id", handler.DeleteBusinessHours)
	}
	holidays := r.Group("/holidays")
	{
		holidays.GET("", handler.ListHolidays)
		holidays.POST("", handler.CreateHoliday)
		holidays.DELETE(":id", handler.DeleteHoliday)
	}
	r.GET("/calendar/next-business-moment", handler.NextBusinessMoment)
}
