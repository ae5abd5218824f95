package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/danutirta/tanyadata-backend/internal/handlers"
	"github.com/danutirta/tanyadata-backend/internal/platform/envutil"
)

type RouterConfig struct {
	AskHandler       *handlers.AskHandler
	ChatHandler      *handlers.ChatHandler
	EventsHandler    *handlers.EventsHandler
	TelemetryHandler *handlers.TelemetryHandler
	ReadinessHandler *handlers.ReadinessHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if !envutil.Bool("GIN_DEBUG", false) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(envutil.String("OTEL_SERVICE_NAME", "tanyadata")))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-User-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/readyz", cfg.ReadinessHandler.Ready)
	router.GET("/metrics", cfg.TelemetryHandler.Prometheus)

	api := router.Group("/api")
	{
		api.POST("/ask", cfg.AskHandler.Ask)
		api.GET("/chats", cfg.ChatHandler.ListChats)
		api.GET("/chats/:id/messages", cfg.ChatHandler.ListMessages)
		api.GET("/events", cfg.EventsHandler.Subscribe)
		api.GET("/performance", cfg.TelemetryHandler.Performance)
	}

	return router
}

func corsOrigins() []string {
	raw := envutil.String("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5174")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
