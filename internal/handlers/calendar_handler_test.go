package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"atendo/internal/models"
	"atendo/internal/services"
)

func newTestDBForCalendar(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:calendar_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.BusinessHoursRule{}, &models.Holiday{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newCalendarRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	h := NewCalendarHandler(services.NewCalendarService(db, logger))
	r := gin.New()
	api := r.Group("/api")
	RegisterCalendarRoutes(api, h)
	return r
}

func TestCalendarHandler_BusinessHoursCRUD(t *testing.T) {
	db := newTestDBForCalendar(t)
	r := newCalendarRouter(db)

	body, _ := json.Marshal(map[string]any{
		"weekday":   1,
		"opens_at":  "09:00",
		"closes_at": "18:00",
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/business-hours", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}

	// 无效窗口被拒绝
	bad, _ := json.Marshal(map[string]any{"weekday": 1, "opens_at": "18:00", "closes_at": "09:00"})
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodPost, "/api/business-hours", bytes.NewReader(bad))
	req2.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("inverted window status=%d, want 400", w2.Code)
	}

	// 更新
	update, _ := json.Marshal(map[string]any{"closes_at": "17:00"})
	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest(http.MethodPut, "/api/business-hours/1", bytes.NewReader(update))
	req3.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w3.Code, w3.Body.String())
	}
	var updated models.BusinessHoursRule
	if err := json.Unmarshal(w3.Body.Bytes(), &updated); err != nil {
		t.Fatalf("unmarshal updated: %v", err)
	}
	if updated.ClosesAt != "17:00" {
		t.Errorf("closes_at = %s, want 17:00", updated.ClosesAt)
	}

	// 删除
	w4 := httptest.NewRecorder()
	req4, _ := http.NewRequest(http.MethodDelete, "/api/business-hours/1", nil)
	r.ServeHTTP(w4, req4)
	if w4.Code != http.StatusOK {
		t.Fatalf("delete status=%d", w4.Code)
	}
	w5 := httptest.NewRecorder()
	req5, _ := http.NewRequest(http.MethodDelete, "/api/business-hours/1", nil)
	r.ServeHTTP(w5, req5)
	if w5.Code != http.StatusNotFound {
		t.Fatalf("delete missing status=%d, want 404", w5.Code)
	}
}

func TestCalendarHandler_Holidays(t *testing.T) {
	db := newTestDBForCalendar(t)
	r := newCalendarRouter(db)

	body, _ := json.Marshal(map[string]any{
		"name":      "Natal",
		"date":      "2025-12-25",
		"recurring": true,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/holidays", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}

	// 日期格式错误
	bad, _ := json.Marshal(map[string]any{"name": "x", "date": "25/12/2025"})
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodPost, "/api/holidays", bytes.NewReader(bad))
	req2.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("bad date status=%d, want 400", w2.Code)
	}

	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest(http.MethodGet, "/api/holidays", nil)
	r.ServeHTTP(w3, req3)
	var holidays []models.Holiday
	if err := json.Unmarshal(w3.Body.Bytes(), &holidays); err != nil {
		t.Fatalf("unmarshal holidays: %v", err)
	}
	if len(holidays) != 1 || !holidays[0].Recurring {
		t.Fatalf("unexpected holidays: %+v", holidays)
	}
}

func TestCalendarHandler_NextBusinessMoment(t *testing.T) {
	db := newTestDBForCalendar(t)
	r := newCalendarRouter(db)

	for wd := 1; wd <= 5; wd++ {
		db.Create(&models.BusinessHoursRule{Weekday: wd, OpensAt: "09:00", ClosesAt: "18:00", Active: true})
	}

	// 周五 19:00 → 周一 09:00
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet,
		"/api/calendar/next-business-moment?sector_id=1&from=2025-06-06T19:00:00Z", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Next            string `json:"next"`
		IsBusinessHours bool   `json:"is_business_hours"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.IsBusinessHours {
		t.Error("19:00 should be outside business hours")
	}
	if resp.Next != "2025-06-09T09:00:00Z" {
		t.Errorf("next = %s, want 2025-06-09T09:00:00Z", resp.Next)
	}
}
