package services

import (
	"context"
	"testing"

	"atendo/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newNotificationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestNotificationService_Notify(t *testing.T) {
	db := newNotificationTestDB(t)
	svc := NewNotificationService(db, nil)
	ctx := context.Background()

	ticketID := uint(42)
	svc.Notify(ctx, 7, "escalation", "Chamado escalado", "o chamado foi escalado", &ticketID)

	var stored models.Notification
	if err := db.Where("recipient_id = ?", 7).First(&stored).Error; err != nil {
		t.Fatalf("load notification: %v", err)
	}
	if stored.Type != "escalation" || stored.Title != "Chamado escalado" {
		t.Errorf("notification = %+v", stored)
	}
	if stored.TicketID == nil || *stored.TicketID != 42 {
		t.Errorf("ticket id = %v, want 42", stored.TicketID)
	}
	if stored.DedupeKey == "" {
		t.Error("dedupe key should be generated")
	}

	// recipient 0 被忽略
	svc.Notify(ctx, 0, "escalation", "t", "m", nil)
	var count int64
	db.Model(&models.Notification{}).Count(&count)
	if count != 1 {
		t.Errorf("notifications = %d, want 1 (recipient 0 skipped)", count)
	}
}

func TestNotificationService_NotifyAll_DedupesRecipients(t *testing.T) {
	db := newNotificationTestDB(t)
	svc := NewNotificationService(db, nil)
	ctx := context.Background()

	svc.NotifyAll(ctx, []uint{1, 2, 1, 2, 3}, "automation", "Aviso", "mensagem", nil)

	var count int64
	db.Model(&models.Notification{}).Count(&count)
	if count != 3 {
		t.Errorf("notifications = %d, want 3 distinct recipients", count)
	}
}

func TestNotificationService_RecentForRecipient(t *testing.T) {
	db := newNotificationTestDB(t)
	svc := NewNotificationService(db, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.Notify(ctx, 1, "automation", "Aviso", "m", nil)
	}
	svc.Notify(ctx, 2, "automation", "Outro", "m", nil)

	recent, err := svc.RecentForRecipient(ctx, 1, 3)
	if err != nil {
		t.Fatalf("RecentForRecipient: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	for _, n := range recent {
		if n.RecipientID != 1 {
			t.Errorf("notification for recipient %d leaked", n.RecipientID)
		}
	}
}
