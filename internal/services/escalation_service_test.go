package services

import (
	"context"
	"testing"
	"time"

	"atendo/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newEscalationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Sector{},
		&models.SectorPriorityConfig{},
		&models.Ticket{},
		&models.TicketHistory{},
		&models.SLAPause{},
		&models.EscalationRecord{},
		&models.Notification{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newEscalationService(db *gorm.DB) *EscalationService {
	return NewEscalationService(db, nil, NewNotificationService(db, nil))
}

// seedEscalationConfig 配置 (部门1, critica)：提前 1h 升级给用户 9
func seedEscalationConfig(t *testing.T, db *gorm.DB) {
	t.Helper()
	db.Create(&models.User{ID: 9, Username: "supervisor", Email: "supervisor@test.com", Name: "Supervisora"})
	if err := db.Create(&models.SectorPriorityConfig{
		SectorID:            1,
		Priority:            "critica",
		SLAHours:            4,
		EscalationLeadHours: 1,
		EscalationTargetID:  uintPtr(9),
	}).Error; err != nil {
		t.Fatalf("create escalation config: %v", err)
	}
}

func createDueTicket(t *testing.T, db *gorm.DB, due time.Time) *models.Ticket {
	t.Helper()
	assignee := uint(2)
	ticket := &models.Ticket{
		Title:      "Banco de dados indisponível",
		SectorID:   1,
		CreatorID:  1,
		AssigneeID: &assignee,
		Priority:   "critica",
		Status:     "em_atendimento",
		DueDate:    &due,
	}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestEscalationService_CheckEscalation(t *testing.T) {
	db := newEscalationTestDB(t)
	svc := newEscalationService(db)
	ctx := context.Background()
	seedEscalationConfig(t, db)

	// 截止在 30 分钟后，提前量 1h → 已进入升级窗口
	soon := createDueTicket(t, db, time.Now().Add(30*time.Minute))
	if !svc.CheckEscalation(ctx, soon) {
		t.Error("ticket inside the escalation window should escalate")
	}

	// 截止还有 3 小时 → 尚未进入窗口
	far := createDueTicket(t, db, time.Now().Add(3*time.Hour))
	if svc.CheckEscalation(ctx, far) {
		t.Error("ticket outside the escalation window should not escalate")
	}

	// 没有截止时刻的工单不升级
	noDue := &models.Ticket{Title: "Sem prazo", SectorID: 1, CreatorID: 1, Priority: "critica"}
	db.Create(noDue)
	if svc.CheckEscalation(ctx, noDue) {
		t.Error("ticket without due date should not escalate")
	}

	// 没有配置升级目标的优先级不升级
	other := createDueTicket(t, db, time.Now().Add(10*time.Minute))
	other.Priority = "baixa"
	db.Model(other).Update("priority", "baixa")
	if svc.CheckEscalation(ctx, other) {
		t.Error("priority without escalation config should not escalate")
	}
}

// 冷却窗口：同一工单 2 小时内最多升级一次
func TestEscalationService_DuplicateGuard(t *testing.T) {
	db := newEscalationTestDB(t)
	svc := newEscalationService(db)
	ctx := context.Background()
	seedEscalationConfig(t, db)

	ticket := createDueTicket(t, db, time.Now().Add(30*time.Minute))
	if !svc.CheckEscalation(ctx, ticket) {
		t.Fatal("first check should pass")
	}
	if _, err := svc.EscalateTicket(ctx, ticket, "SLA deadline approaching"); err != nil {
		t.Fatalf("EscalateTicket: %v", err)
	}

	if svc.CheckEscalation(ctx, ticket) {
		t.Error("second check within the cooldown window should be suppressed")
	}

	// 把已有记录回拨到冷却窗口之外后再次放行
	old := time.Now().Add(-escalationCooldown - time.Minute)
	if err := db.Model(&models.EscalationRecord{}).
		Where("ticket_id = ?", ticket.ID).
		UpdateColumn("created_at", old).Error; err != nil {
		t.Fatalf("backdate record: %v", err)
	}
	if !svc.CheckEscalation(ctx, ticket) {
		t.Error("check should pass again once the cooldown expired")
	}
}

func TestEscalationService_EscalateTicket(t *testing.T) {
	db := newEscalationTestDB(t)
	svc := newEscalationService(db)
	ctx := context.Background()
	seedEscalationConfig(t, db)

	ticket := createDueTicket(t, db, time.Now().Add(30*time.Minute))
	record, err := svc.EscalateTicket(ctx, ticket, "SLA deadline approaching")
	if err != nil {
		t.Fatalf("EscalateTicket: %v", err)
	}

	if record.Level != 1 {
		t.Errorf("level = %d, want 1", record.Level)
	}
	if record.ToUserID != 9 {
		t.Errorf("target = %d, want 9", record.ToUserID)
	}
	if record.FromUserID == nil || *record.FromUserID != 2 {
		t.Errorf("from = %v, want previous assignee 2", record.FromUserID)
	}

	// 工单被转派
	var stored models.Ticket
	db.First(&stored, ticket.ID)
	if stored.AssigneeID == nil || *stored.AssigneeID != 9 {
		t.Errorf("assignee = %v, want escalation target 9", stored.AssigneeID)
	}

	// 历史记录
	var history int64
	db.Model(&models.TicketHistory{}).Where("ticket_id = ? AND action = ?", ticket.ID, "escalated").Count(&history)
	if history != 1 {
		t.Errorf("history entries = %d, want 1", history)
	}

	// 创建人、原处理人、新处理人都收到通知
	for _, recipient := range []uint{1, 2, 9} {
		var n int64
		db.Model(&models.Notification{}).Where("recipient_id = ?", recipient).Count(&n)
		if n != 1 {
			t.Errorf("recipient %d got %d notifications, want 1", recipient, n)
		}
	}

	// 再次升级时级别单调递增
	second, err := svc.EscalateTicket(ctx, ticket, "still breaching")
	if err != nil {
		t.Fatalf("second EscalateTicket: %v", err)
	}
	if second.Level != 2 {
		t.Errorf("second level = %d, want 2", second.Level)
	}
}

func TestEscalationService_RunSweep(t *testing.T) {
	db := newEscalationTestDB(t)
	svc := newEscalationService(db)
	ctx := context.Background()
	seedEscalationConfig(t, db)

	inWindow := createDueTicket(t, db, time.Now().Add(30*time.Minute))
	createDueTicket(t, db, time.Now().Add(5*time.Hour)) // 窗口外

	// 已解决的工单不参与扫描
	resolved := createDueTicket(t, db, time.Now().Add(10*time.Minute))
	db.Model(resolved).Update("status", "resolvido")

	// 暂停中的工单不升级
	paused := createDueTicket(t, db, time.Now().Add(10*time.Minute))
	db.Create(&models.SLAPause{TicketID: paused.ID, PausedAt: time.Now(), Reason: "waiting"})

	checked, escalated := svc.RunSweep(ctx)
	if checked != 3 {
		t.Errorf("checked = %d, want 3", checked)
	}
	if escalated != 1 {
		t.Errorf("escalated = %d, want 1", escalated)
	}

	var stored models.Ticket
	db.First(&stored, inWindow.ID)
	if stored.AssigneeID == nil || *stored.AssigneeID != 9 {
		t.Error("in-window ticket should have been reassigned by the sweep")
	}

	var pausedStored models.Ticket
	db.First(&pausedStored, paused.ID)
	if pausedStored.AssigneeID != nil && *pausedStored.AssigneeID == 9 {
		t.Error("paused ticket must not be escalated")
	}
}

// 扫描幂等：连续两次扫描只升级一次
func TestEscalationService_RunSweep_Idempotent(t *testing.T) {
	db := newEscalationTestDB(t)
	svc := newEscalationService(db)
	ctx := context.Background()
	seedEscalationConfig(t, db)

	createDueTicket(t, db, time.Now().Add(30*time.Minute))

	_, first := svc.RunSweep(ctx)
	_, second := svc.RunSweep(ctx)
	if first != 1 {
		t.Errorf("first sweep escalated = %d, want 1", first)
	}
	if second != 0 {
		t.Errorf("second sweep escalated = %d, want 0 (cooldown)", second)
	}

	var records int64
	db.Model(&models.EscalationRecord{}).Count(&records)
	if records != 1 {
		t.Errorf("escalation records = %d, want 1", records)
	}
}

func TestEscalationService_CheckNoResponseTickets(t *testing.T) {
	db := newEscalationTestDB(t)
	svc := newEscalationService(db)
	ctx := context.Background()

	stale := &models.Ticket{Title: "Esquecido", SectorID: 1, CreatorID: 1, Priority: "media", Status: "aberto"}
	db.Create(stale)
	db.Model(stale).UpdateColumn("updated_at", time.Now().AddDate(0, 0, -5))

	fresh := &models.Ticket{Title: "Recente", SectorID: 1, CreatorID: 1, Priority: "media", Status: "aberto"}
	db.Create(fresh)

	closed := &models.Ticket{Title: "Encerrado", SectorID: 1, CreatorID: 1, Priority: "media", Status: "fechado"}
	db.Create(closed)
	db.Model(closed).UpdateColumn("updated_at", time.Now().AddDate(0, 0, -10))

	if got := svc.CheckNoResponseTickets(ctx, 3); got != 1 {
		t.Errorf("stale tickets = %d, want 1", got)
	}
}

func TestEscalationService_ListEscalations(t *testing.T) {
	db := newEscalationTestDB(t)
	svc := newEscalationService(db)
	ctx := context.Background()
	seedEscalationConfig(t, db)

	ticket := createDueTicket(t, db, time.Now().Add(30*time.Minute))
	if _, err := svc.EscalateTicket(ctx, ticket, "first"); err != nil {
		t.Fatalf("EscalateTicket: %v", err)
	}
	if _, err := svc.EscalateTicket(ctx, ticket, "second"); err != nil {
		t.Fatalf("EscalateTicket: %v", err)
	}

	records, err := svc.ListEscalations(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ListEscalations: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Level != 1 || records[1].Level != 2 {
		t.Errorf("levels = [%d %d], want [1 2]", records[0].Level, records[1].Level)
	}
}
