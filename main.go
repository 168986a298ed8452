package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/clients"
	"github.com/civicdata-io/civic-engine/pkg/config"
	"github.com/civicdata-io/civic-engine/pkg/database"
	"github.com/civicdata-io/civic-engine/pkg/handlers"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/logging"
	"github.com/civicdata-io/civic-engine/pkg/repositories"
	"github.com/civicdata-io/civic-engine/pkg/scheduler"
	"github.com/civicdata-io/civic-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Database),
		zap.String("database_host", cfg.Database.Host),
		zap.Bool("scheduler_enabled", cfg.Scheduler.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	policies, err := importer.LoadPolicySet(cfg.Import.FieldAuthorityPath)
	if err != nil {
		logger.Fatal("Failed to load field authority policies", zap.Error(err))
	}

	orgRepo := repositories.NewGovernmentOrgRepository(db)
	statuteRepo := repositories.NewStatuteRepository(db)
	regRepo := repositories.NewRegulationRepository(db)
	runRepo := repositories.NewImportRunRepository(db)

	frClient := clients.NewFederalRegisterClient(cfg.FederalRegister, logger)
	uscClient := clients.NewUSCodeDownloadClient(cfg.USCode, logger)

	guard := services.NewDomainGuard()

	csvImport, err := services.NewGovOrgCSVImportService(orgRepo, runRepo, db, guard, policies, logger)
	if err != nil {
		logger.Fatal("Failed to build CSV import service", zap.Error(err))
	}
	govmanImport, err := services.NewGovmanImportService(orgRepo, runRepo, db, guard, policies, logger)
	if err != nil {
		logger.Fatal("Failed to build GOVMAN import service", zap.Error(err))
	}
	uscodeImport, err := services.NewUSCodeImportService(statuteRepo, runRepo, db, guard, uscClient,
		policies, cfg.Import.BatchSize, logger)
	if err != nil {
		logger.Fatal("Failed to build US Code import service", zap.Error(err))
	}
	regSync, err := services.NewRegulationSyncService(regRepo, orgRepo, runRepo, db, guard, frClient,
		policies, cfg.Scheduler.RegulationSyncLookbackDays, logger)
	if err != nil {
		logger.Fatal("Failed to build regulation sync service", zap.Error(err))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAdminImportHandler(csvImport, govmanImport, uscodeImport, regSync, runRepo, logger).RegisterRoutes(mux)
	handlers.NewCivicDataHandler(orgRepo, statuteRepo, regRepo, logger).RegisterRoutes(mux)

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler, regSync, logger)
		if err != nil {
			logger.Fatal("Failed to build scheduler", zap.Error(err))
		}
		sched.Start()
		defer sched.Stop()
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting civic-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// runMigrations opens a short-lived database/sql connection for the migration
// tool; the application itself talks to Postgres through pgx pools.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, cfg.MigrationsPath, logger)
}
