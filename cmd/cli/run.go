package main

import (
	"context"
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
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the atendo server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServer() error {
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

	if err := config.InitLogger(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := logrus.StandardLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Warnf("Tracing setup failed, continuing without tracing: %v", err)
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			shutdownTracing(shutdownCtx)
		}()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin(gormtracing.WithoutMetrics())); err != nil {
			logger.Warnf("Failed to enable database tracing: %v", err)
		}
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
		return fmt.Errorf("migrate database: %w", err)
	}

	calendarService := services.NewCalendarService(db, logger)
	slaService := services.NewSLAService(db, logger, calendarService)
	notificationService := services.NewNotificationService(db, logger)
	automationService := services.NewAutomationService(db, logger, notificationService)
	escalationService := services.NewEscalationService(db, logger, notificationService)
	escalationService.SetAutomationService(automationService)
	ticketService := services.NewTicketService(db, logger, slaService)
	ticketService.SetAutomationService(automationService)

	go escalationService.StartEscalationMonitor(ctx, cfg.SLA.SweepInterval)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
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
	srv := &http.Server{Addr: addr, Handler: r}

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
	return srv.Shutdown(shutdownCtx)
}
