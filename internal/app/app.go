package app

import (
	"context"
	"fmt"
	"os"

	"time"

	"github.com/gin-gonic/gin"

	"github.com/danutirta/tanyadata-backend/internal/cache"
	redisbus "github.com/danutirta/tanyadata-backend/internal/clients/redis"
	"github.com/danutirta/tanyadata-backend/internal/config"
	repos "github.com/danutirta/tanyadata-backend/internal/data/repos/chat"
	"github.com/danutirta/tanyadata-backend/internal/db"
	"github.com/danutirta/tanyadata-backend/internal/handlers"
	"github.com/danutirta/tanyadata-backend/internal/modules/answer"
	"github.com/danutirta/tanyadata-backend/internal/observability"
	"github.com/danutirta/tanyadata-backend/internal/platform/envutil"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
	"github.com/danutirta/tanyadata-backend/internal/platform/openai"
	"github.com/danutirta/tanyadata-backend/internal/platform/qdrant"
	"github.com/danutirta/tanyadata-backend/internal/server"
	"github.com/danutirta/tanyadata-backend/internal/sse"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	Log      *logger.Logger
	Cfg      config.Pipeline
	Router   *gin.Engine
	Pipeline *answer.Pipeline
	Hub      *sse.SSEHub

	opdb         *db.OperationalDB
	bus          redisbus.EventBus
	queryCache   *cache.QueryCache
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.Load(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}

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

	// The operational database is the queried dataset, not our own store.
	// When it is down the pipeline answers in degraded mode, so init
	// failure is a warning, not a fatal.
	opdb, err := db.NewOperationalDB(ctx, log)
	if err != nil {
		log.Warn("operational database unavailable; answering in degraded mode", "error", err)
		opdb = nil
	}

	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("qdrant config: %w", err)
	}
	vec, err := qdrant.NewVectorStore(qcfg, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init qdrant: %w", err)
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	hub := sse.NewSSEHub(log)
	bus, err := redisbus.NewEventBus(log)
	if err != nil {
		log.Warn("redis event bus disabled", "error", err)
		bus = nil
	}

	queryCache := cache.New(log, cfg.Cache.MaxEntries, cfg.Cache.TTL)
	metrics := observability.NewMetrics()
	perf := observability.NewPerformanceLog(cfg.PerformanceRingSize)

	chats := repos.NewChatRepo(theDB, log)
	messages := repos.NewChatMessageRepo(theDB, log)

	deps := answer.Deps{
		Log:      log,
		Cfg:      cfg,
		AI:       ai,
		Emb:      ai,
		Vec:      vec,
		Chats:    chats,
		Messages: messages,
		Cache:    queryCache,
		Metrics:  metrics,
		Perf:     perf,
		Bus:      bus,
	}
	if opdb != nil {
		deps.SQL = opdb
		deps.Schema = opdb
	}

	pipe, err := answer.NewPipeline(deps)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init answer pipeline: %w", err)
	}

	checks := map[string]handlers.HealthChecker{
		"qdrant": vec,
	}
	if opdb != nil {
		checks["operational_db"] = opdb
	} else {
		checks["operational_db"] = nil
	}

	router := server.NewRouter(server.RouterConfig{
		AskHandler:       handlers.NewAskHandler(log, pipe),
		ChatHandler:      handlers.NewChatHandler(log, chats, messages),
		EventsHandler:    handlers.NewEventsHandler(log, hub),
		TelemetryHandler: handlers.NewTelemetryHandler(metrics, perf, queryCache),
		ReadinessHandler: handlers.NewReadinessHandler(checks),
	})

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "tanyadata"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Router:       router,
		Pipeline:     pipe,
		Hub:          hub,
		opdb:         opdb,
		bus:          bus,
		queryCache:   queryCache,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background workers: cache expiry sweeps and the
// redis-to-SSE forwarder.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.queryCache.StartSweeper(ctx, a.Cfg.Cache.SweepInterval)
	if a.bus != nil {
		if err := a.bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			a.Log.Warn("event forwarder failed to start", "error", err)
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
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.Log.Warn("closing event bus", "error", err)
		}
	}
	if a.opdb != nil {
		a.opdb.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
