package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/docingest-backend/internal/http/handlers"
	httpMW "github.com/yungbote/docingest-backend/internal/http/middleware"
	"github.com/yungbote/docingest-backend/internal/observability"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	// AuthMiddleware guards /api when set; health stays public.
	AuthMiddleware *httpMW.AuthMiddleware
	Metrics        *observability.Metrics
	CORSOrigins    []string
	ServiceName    string

	HealthHandler *httpH.HealthHandler
	SearchHandler *httpH.SearchHandler
	FileHandler   *httpH.FileHandler
	StatsHandler  *httpH.StatsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "docingest"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}
	{
		// Search
		if cfg.SearchHandler != nil {
			api.GET("/search", cfg.SearchHandler.Search)
			api.POST("/search", cfg.SearchHandler.SearchJSON)
		}

		// Files
		if cfg.FileHandler != nil {
			api.GET("/files/:hash", cfg.FileHandler.GetFile)
		}

		// Stats
		if cfg.StatsHandler != nil {
			api.GET("/stats", cfg.StatsHandler.GetStats)
		}
	}

	return r
}
