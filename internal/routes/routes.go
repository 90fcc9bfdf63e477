package routes

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/groupbank/groupbank/internal/config"
	"github.com/groupbank/groupbank/internal/group"
	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/metrics"
	"github.com/groupbank/groupbank/internal/middleware"
	"github.com/groupbank/groupbank/internal/notification"
	"github.com/groupbank/groupbank/internal/protocol"
	"github.com/groupbank/groupbank/internal/signing"
	"github.com/groupbank/groupbank/internal/uome"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	SQL     *sql.DB
	Cache   *redis.Client
	Logger  *slog.Logger
	Signer  *signing.Signer
	Metrics *metrics.Metrics
	// Ledger overrides the store chosen from DB and SQL.
	Ledger ledger.Ledger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce store/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil && d.SQL == nil && d.Ledger == nil {
			return fmt.Errorf("a database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Signer == nil {
		return fmt.Errorf("server signer is required")
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics(d.Metrics))
	app.Use(middleware.SignResponse(d.Signer))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	// Services and handlers
	store := d.Ledger
	switch {
	case store != nil:
	case d.DB != nil:
		store = ledger.NewPostgresLedger(d.DB)
	case d.SQL != nil:
		store = ledger.NewSQLiteLedger(d.SQL)
	default:
		d.Logger.Warn("no database configured, ledger is kept in memory")
		store = ledger.NewInMemory()
	}

	verifier := protocol.NewVerifier(signing.Ed25519Authenticator{})
	uomeSvc := uome.NewService(store, verifier, d.Logger,
		uome.WithNotifier(notification.NewLoggerNotifier(d.Logger)),
		uome.WithMetrics(d.Metrics),
		uome.WithTimeout(d.Cfg.StoreTimeout),
	)
	groupSvc := group.NewService(store, verifier, d.Logger, d.Cfg.StoreTimeout)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"server_key": d.Signer.Identity(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Every mutation and query below is authenticated by its envelope.
	signed := []fiber.Handler{
		middleware.VerifyEnvelope(signing.Ed25519Authenticator{}, d.Logger),
		middleware.AuthorRateLimit(d.Cache, d.Cfg.RateLimitPerMinute),
	}
	RegisterGroupRoutes(api.Group("/groups", signed...), group.NewHandler(groupSvc))
	RegisterUOMeRoutes(api.Group("/uome", signed...), uome.NewHandler(uomeSvc))

	return nil
}
