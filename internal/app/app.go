package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/framewell/studio-qc-backend/internal/db"
	"github.com/framewell/studio-qc-backend/internal/observability"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/platform/envutil"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services

	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "studio-qc-backend",
		Environment: cfg.Environment,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)
	serviceset := wireServices(theDB, log, cfg, reposet, clients)
	handlerset := wireHandlers(log, serviceset)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, handlerset, middleware)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background loops: the scheduled feedback sync and the
// stuck-processing sweep. Both are detection-and-publish only; neither
// mutates primary lifecycle state.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.runFeedbackSyncLoop(ctx)
	go a.runStuckSweepLoop(ctx)
}

func (a *App) runFeedbackSyncLoop(ctx context.Context) {
	interval := a.Cfg.FeedbackSyncInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Services.Feedback.Sync(dbctx.Context{Ctx: ctx}); err != nil {
				a.Log.Warn("Scheduled feedback sync failed", "error", err)
			}
		}
	}
}

func (a *App) runStuckSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stuck, err := a.Services.Dispatch.ListStuck(dbctx.Context{Ctx: ctx})
			if err != nil {
				a.Log.Warn("Stuck-processing sweep failed", "error", err)
				continue
			}
			for _, u := range stuck {
				a.Log.Warn("Upload stuck in deep-analysis processing",
					"upload_id", u.ID, "updated_at", u.UpdatedAt)
			}
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Clients.EventBus != nil {
		_ = a.Clients.EventBus.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
