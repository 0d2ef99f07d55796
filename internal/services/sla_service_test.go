package services

import (
	"context"
	"testing"
	"time"

	"atendo/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSLATestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Sector{},
		&models.SectorPriorityConfig{},
		&models.BusinessHoursRule{},
		&models.Holiday{},
		&models.Ticket{},
		&models.SLAPause{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newSLAService(db *gorm.DB) *SLAService {
	return NewSLAService(db, nil, NewCalendarService(db, nil))
}

func TestSLAService_SLAHoursFor_FallbackChain(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 12})
	db.Create(&models.SectorPriorityConfig{SectorID: 1, Priority: "critica", SLAHours: 4})

	// 优先级配置命中
	if got := svc.SLAHoursFor(ctx, 1, "critica"); got != 4 {
		t.Errorf("SLAHoursFor(critica) = %v, want 4", got)
	}
	// 无优先级配置时退回部门默认值
	if got := svc.SLAHoursFor(ctx, 1, "baixa"); got != 12 {
		t.Errorf("SLAHoursFor(baixa) = %v, want sector default 12", got)
	}
	// 部门不存在时退回全局默认
	if got := svc.SLAHoursFor(ctx, 99, "media"); got != defaultSLAHours {
		t.Errorf("SLAHoursFor(unknown sector) = %v, want %v", got, defaultSLAHours)
	}
}

// 周五 17:30 创建、4 小时 SLA、工作日 09:00-18:00：
// 周五消耗 0.5h，剩余 3.5h 落在周一 → 周一 12:30。
func TestSLAService_DueDate_CrossesWeekend(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 24})
	db.Create(&models.SectorPriorityConfig{SectorID: 1, Priority: "critica", SLAHours: 4})
	seedWeekdayRules(t, db, nil, "09:00", "18:00")

	createdAt := time.Date(2025, 6, 6, 17, 30, 0, 0, time.UTC) // 周五
	due := svc.CalculateDueDate(ctx, createdAt, "critica", 1)

	want := time.Date(2025, 6, 9, 12, 30, 0, 0, time.UTC) // 周一 12:30
	if !due.Equal(want) {
		t.Errorf("due = %s, want %s", due.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

// 同上，但周一是节假日 → 周二 12:30
func TestSLAService_DueDate_SkipsHoliday(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 24})
	db.Create(&models.SectorPriorityConfig{SectorID: 1, Priority: "critica", SLAHours: 4})
	seedWeekdayRules(t, db, nil, "09:00", "18:00")
	db.Create(&models.Holiday{
		Name: "Feriado",
		Date: time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
	})

	createdAt := time.Date(2025, 6, 6, 17, 30, 0, 0, time.UTC)
	due := svc.CalculateDueDate(ctx, createdAt, "critica", 1)

	want := time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC) // 周二 12:30
	if !due.Equal(want) {
		t.Errorf("due = %s, want %s", due.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

// 没有任何营业时间规则时退化为纯小时加法
func TestSLAService_DueDate_NoCalendarConfig(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 24})
	db.Create(&models.SectorPriorityConfig{SectorID: 1, Priority: "alta", SLAHours: 8})

	createdAt := time.Date(2025, 6, 7, 23, 0, 0, 0, time.UTC) // 周六深夜也照常计时
	due := svc.CalculateDueDate(ctx, createdAt, "alta", 1)

	want := createdAt.Add(8 * time.Hour)
	if !due.Equal(want) {
		t.Errorf("due = %s, want %s (raw addition)", due.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

// 零预算：截止时刻吸附到下一个营业时刻
func TestSLAService_DueDateAfter_ZeroBudget(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()
	seedWeekdayRules(t, db, nil, "09:00", "18:00")

	from := time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC) // 周六
	due := svc.DueDateAfter(ctx, from, 0, 1)

	want := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC) // 周一开门
	if !due.Equal(want) {
		t.Errorf("due = %s, want %s", due.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

// 整小时预算正好在窗口内消耗完
func TestSLAService_DueDate_WithinSameDay(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 24})
	db.Create(&models.SectorPriorityConfig{SectorID: 1, Priority: "alta", SLAHours: 2})
	seedWeekdayRules(t, db, nil, "09:00", "18:00")

	createdAt := time.Date(2025, 6, 6, 10, 0, 0, 0, time.UTC) // 周五 10:00
	due := svc.CalculateDueDate(ctx, createdAt, "alta", 1)

	want := time.Date(2025, 6, 6, 12, 0, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Errorf("due = %s, want %s", due.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

// 截止时刻不会落在节假日或非营业时段内
func TestSLAService_DueDate_NeverLandsOutsideBusinessHours(t *testing.T) {
	db := newSLATestDB(t)
	calendar := NewCalendarService(db, nil)
	svc := NewSLAService(db, nil, calendar)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 24})
	seedWeekdayRules(t, db, nil, "09:00", "18:00")
	db.Create(&models.Holiday{
		Name: "Feriado",
		Date: time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), // 周三
	})

	budgets := []float64{0.5, 2, 4, 9, 13.5, 27}
	createdAt := time.Date(2025, 6, 6, 16, 45, 0, 0, time.UTC)
	for _, hours := range budgets {
		due := svc.DueDateAfter(ctx, createdAt, hours, 1)
		if calendar.IsHoliday(ctx, due, 1) {
			t.Errorf("budget %.1fh: due %s lands on a holiday", hours, due.Format(time.RFC3339))
		}
		wd := due.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			t.Errorf("budget %.1fh: due %s lands on a weekend", hours, due.Format(time.RFC3339))
		}
		minute := due.Hour()*60 + due.Minute()
		if minute < 9*60 || minute > 18*60 {
			t.Errorf("budget %.1fh: due %s outside 09:00-18:00", hours, due.Format(time.RFC3339))
		}
	}
}

func TestSLAService_ApplyDueDate(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 24})
	ticket := &models.Ticket{
		Title:     "Sistema fora do ar",
		SectorID:  1,
		CreatorID: 1,
		Priority:  "media",
		Status:    "aberto",
		CreatedAt: time.Date(2025, 6, 6, 10, 0, 0, 0, time.UTC),
	}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	if err := svc.ApplyDueDate(ctx, ticket); err != nil {
		t.Fatalf("ApplyDueDate: %v", err)
	}
	if ticket.DueDate == nil {
		t.Fatal("due date not set on ticket")
	}

	var stored models.Ticket
	if err := db.First(&stored, ticket.ID).Error; err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if stored.DueDate == nil || !stored.DueDate.Equal(*ticket.DueDate) {
		t.Error("due date not persisted")
	}
	if stored.DueDate.Before(ticket.CreatedAt) {
		t.Errorf("due date %s before creation %s", stored.DueDate, ticket.CreatedAt)
	}
}

func TestSLAService_PauseResume(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	db.Create(&models.Sector{ID: 1, Name: "Suporte", DefaultSLAHours: 24})
	ticket := &models.Ticket{Title: "Aguardando cliente", SectorID: 1, CreatorID: 1, Priority: "media", Status: "aguardando"}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	pause, err := svc.PauseSLA(ctx, ticket.ID, "waiting for customer")
	if err != nil {
		t.Fatalf("PauseSLA: %v", err)
	}
	if pause.ResumedAt != nil {
		t.Error("fresh pause should not be resumed")
	}

	// 同一工单不允许第二个未恢复的暂停
	if _, err := svc.PauseSLA(ctx, ticket.ID, "again"); err == nil {
		t.Error("expected error on double pause")
	}

	if !svc.ResumeSLA(ctx, ticket.ID) {
		t.Fatal("ResumeSLA returned false")
	}

	open, err := svc.OpenPause(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("OpenPause: %v", err)
	}
	if open != nil {
		t.Error("pause still open after resume")
	}

	// 恢复后重算了截止时刻
	var stored models.Ticket
	if err := db.First(&stored, ticket.ID).Error; err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if stored.DueDate == nil {
		t.Error("due date not recomputed on resume")
	}

	// 没有未恢复的暂停时 ResumeSLA 返回 false
	if svc.ResumeSLA(ctx, ticket.ID) {
		t.Error("resume without open pause should return false")
	}
}

func TestSLAService_ListPauses(t *testing.T) {
	db := newSLATestDB(t)
	svc := newSLAService(db)
	ctx := context.Background()

	ticket := &models.Ticket{Title: "Intermitente", SectorID: 1, CreatorID: 1, Priority: "media"}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	if _, err := svc.PauseSLA(ctx, ticket.ID, "first"); err != nil {
		t.Fatalf("PauseSLA: %v", err)
	}
	svc.ResumeSLA(ctx, ticket.ID)
	if _, err := svc.PauseSLA(ctx, ticket.ID, "second"); err != nil {
		t.Fatalf("PauseSLA: %v", err)
	}

	pauses, err := svc.ListPauses(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ListPauses: %v", err)
	}
	if len(pauses) != 2 {
		t.Fatalf("len(pauses) = %d, want 2", len(pauses))
	}
}
