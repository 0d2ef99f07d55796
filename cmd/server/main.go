package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atendo/internal/config"
	"atendo/internal/handlers"
	"atendo/internal/middleware"
	"atendo/internal/models"
	"atendo/internal/observability"
	"atendo/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		dbHost     = flag.String("db-host", "", "database host (overrides config)")
		dbPort     = flag.Int("db-port", 0, "database port (overrides config)")
		dbUser     = flag.String("db-user", "", "database user (overrides config)")
		dbPassword = flag.String("db-password", "", "database password (overrides config)")
		dbName     = flag.String("db-name", "", "database name (overrides config)")
		listenHost = flag.String("host", "", "listen host (overrides config)")
		listenPort = flag.Int("port", 0, "listen port (overrides config)")
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
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("No config file loaded, using defaults: %v\n", err)
	}

	cfg := config.Load()
	defaults := config.GetDefaultConfig()
	if cfg.Server.Host == "" {
		cfg.Server = defaults.Server
	}
	if cfg.Database.Host == "" {
		cfg.Database = defaults.Database
	}
	if cfg.SLA.DefaultHours == 0 {
		cfg.SLA = defaults.SLA
	}
	if cfg.Log.Level == "" {
		cfg.Log = defaults.Log
	}

	// 命令行参数优先于配置文件
	cfg.Database.Host = firstNonEmpty(*dbHost, getenvDefault("ATENDO_DB_HOST", cfg.Database.Host))
	if *dbPort != 0 {
		cfg.Database.Port = *dbPort
	}
	cfg.Database.User = firstNonEmpty(*dbUser, cfg.Database.User)
	cfg.Database.Password = firstNonEmpty(*dbPassword, getenvDefault("ATENDO_DB_PASSWORD", cfg.Database.Password))
	cfg.Database.Name = firstNonEmpty(*dbName, cfg.Database.Name)
	cfg.Server.Host = firstNonEmpty(*listenHost, cfg.Server.Host)
	if *listenPort != 0 {
		cfg.Server.Port = *listenPort
	}

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := logrus.StandardLogger()
	logger.Info("Starting atendo server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Warnf("Tracing setup failed, continuing without tracing: %v", err)
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warnf("Tracing shutdown: %v", err)
			}
		}()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin(gormtracing.WithoutMetrics())); err != nil {
			logger.Warnf("Failed to enable database tracing: %v", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("Failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

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
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// 服务装配：calendar -> sla -> notification -> automation -> escalation -> ticket
	calendarService := services.NewCalendarService(db, logger)
	slaService := services.NewSLAService(db, logger, calendarService)
	notificationService := services.NewNotificationService(db, logger)
	automationService := services.NewAutomationService(db, logger, notificationService)
	escalationService := services.NewEscalationService(db, logger, notificationService)
	escalationService.SetAutomationService(automationService)
	ticketService := services.NewTicketService(db, logger, slaService)
	ticketService.SetAutomationService(automationService)

	// 后台任务：升级扫描 + 无响应检查
	go escalationService.StartEscalationMonitor(ctx, cfg.SLA.SweepInterval)
	go func() {
		interval := cfg.SLA.NoResponseInterval
		if interval <= 0 {
			interval = 12 * time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := escalationService.CheckNoResponseTickets(ctx, cfg.SLA.NoResponseDays); n > 0 {
					logger.Infof("No-response check triggered %d automations", n)
				}
			}
		}
	}()

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(corsMiddleware())
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	handlers.RegisterHealthRoutes(r, handlers.NewHealthHandler(db))

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(cfg))
	handlers.RegisterCalendarRoutes(api, handlers.NewCalendarHandler(calendarService))
	handlers.RegisterSLARoutes(api, handlers.NewSLAHandler(slaService))
	handlers.RegisterTicketRoutes(api, handlers.NewTicketHandler(ticketService))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService))
	handlers.RegisterEscalationRoutes(api, handlers.NewEscalationHandler(escalationService))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Info("Server exited")
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
