package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/facilityops/internal/alerts"
	"github.com/odyssey-erp/facilityops/internal/equipment"
	"github.com/odyssey-erp/facilityops/internal/events"
	"github.com/odyssey-erp/facilityops/internal/inventory"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// Services is the wired domain layer shared by the API and the worker.
type Services struct {
	Bus       *events.Bus
	Inventory *inventory.Service
	Equipment *equipment.Service
	Alerts    *alerts.Service
	Trigger   *alerts.Trigger
}

// ServiceDeps groups the infrastructure the domain layer runs on.
type ServiceDeps struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Registerer prometheus.Registerer
	// Enqueuer receives evaluations when ALERT_DISPATCH=queue.
	Enqueuer alerts.Enqueuer
}

// NewServices wires repositories, the event bus and the alert trigger.
func NewServices(deps ServiceDeps) *Services {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := events.NewBus(logger.With(slog.String("component", "events")), deps.Registerer)
	auditLogger := shared.NewAuditLogger(deps.Pool)
	idempotencyStore := shared.NewIdempotencyStore(deps.Pool)

	inventoryService := inventory.NewService(inventory.NewRepository(deps.Pool), auditLogger, idempotencyStore, bus, inventory.ServiceConfig{
		NegativeStockPolicy: cfg.StockPolicy(),
		Logger:              logger.With(slog.String("module", "inventory")),
	})
	equipmentService := equipment.NewService(equipment.NewRepository(deps.Pool), auditLogger, bus, logger.With(slog.String("module", "equipment")))

	alertLogger := logger.With(slog.String("module", "alerts"))
	alertMetrics := alerts.NewMetrics(deps.Registerer)
	summaryCache := alerts.NewSummaryCache(deps.Redis, cfg.AlertSummaryTTL)
	alertRepo := alerts.NewRepository(deps.Pool)
	engine := alerts.NewEngine(alertRepo, alerts.EngineConfig{
		Mode:        cfg.ReconcileMode(),
		Parallelism: cfg.AlertRefreshParallelism,
		Logger:      alertLogger,
		Metrics:     alertMetrics,
		Cache:       summaryCache,
	})
	alertService := alerts.NewService(alertRepo, engine, summaryCache, alertMetrics, alertLogger)

	var enqueuer alerts.Enqueuer
	if cfg.Dispatch() == alerts.DispatchQueue {
		enqueuer = deps.Enqueuer
		if enqueuer == nil {
			logger.Warn("alert dispatch queue requested without a job client, evaluating inline")
		}
	}
	trigger := alerts.NewTrigger(alertService, enqueuer, alertLogger)
	trigger.Register(bus)

	return &Services{
		Bus:       bus,
		Inventory: inventoryService,
		Equipment: equipmentService,
		Alerts:    alertService,
		Trigger:   trigger,
	}
}
