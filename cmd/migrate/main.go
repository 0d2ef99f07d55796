package main

import (
	"flag"
	"fmt"
	"log"

	"atendo/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// 独立迁移入口：建表 + 查询热点索引
func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
	)
	flag.Parse()

	if *configPath != "" {
		viper.SetConfigFile(*configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
	}
	viper.AutomaticEnv()
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "atendo")
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file loaded, using defaults: %v", err)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.name"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Sector{},
		&models.SectorPriorityConfig{},
		&models.BusinessHoursRule{},
		&models.Holiday{},
		&models.Ticket{},
		&models.TicketComment{},
		&models.TicketHistory{},
		&models.SLAPause{},
		&models.EscalationRecord{},
		&models.Notification{},
		&models.AutomationRule{},
		&models.AutomationExecutionLog{},
	); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	// 升级扫描和自动化触发的热点查询索引
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_tickets_status_due ON tickets (status, due_date)",
		"CREATE INDEX IF NOT EXISTS idx_tickets_sector_status ON tickets (sector_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_business_hours_sector_weekday ON business_hours_rules (sector_id, weekday)",
		"CREATE INDEX IF NOT EXISTS idx_holidays_date ON holidays (date)",
		"CREATE INDEX IF NOT EXISTS idx_escalations_ticket ON escalation_records (ticket_id)",
		"CREATE INDEX IF NOT EXISTS idx_sla_pauses_ticket_open ON sla_pauses (ticket_id, resumed_at)",
		"CREATE INDEX IF NOT EXISTS idx_automation_rules_event ON automation_rules (event, priority)",
		"CREATE INDEX IF NOT EXISTS idx_automation_logs_rule ON automation_execution_logs (rule_id)",
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			log.Printf("index skipped: %v", err)
		}
	}

	log.Println("Migration completed")
}
