package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/newsagent/internal/api/handler"
	"github.com/timmy/newsagent/internal/api/middleware"
	"github.com/timmy/newsagent/internal/config"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/service"
	"github.com/timmy/newsagent/internal/source"
)

// Dependencies are the collaborators the HTTP layer serves. Ingest may be
// nil, in which case the admin routes are not registered.
type Dependencies struct {
	Index      *service.ContentIndex
	Records    handler.RecordLookup
	Ingest     *service.IngestService
	Sources    map[string]source.Source
	ArchiveRaw bool
	Logger     *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Dependencies, server config.ServerConfig) *gin.Engine {
	switch server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(server.CORS))

	healthHandler := handler.NewHealthHandler(deps.Index)
	contentHandler := handler.NewContentHandler(deps.Index, deps.Records)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/search", contentHandler.Search)

		v1.POST("/contents", contentHandler.CreateContent)
		v1.GET("/contents/:id", contentHandler.GetContent)
		v1.PUT("/contents/:id", contentHandler.UpdateContent)
		v1.DELETE("/contents/:id", contentHandler.DeleteContent)
		v1.GET("/contents/:id/similar", contentHandler.FindSimilar)

		v1.GET("/stats", contentHandler.GetStats)
	}

	if deps.Ingest != nil {
		adminHandler := handler.NewAdminHandler(deps.Ingest, deps.Sources, deps.ArchiveRaw)
		admin := v1.Group("/admin")
		{
			admin.POST("/ingest", adminHandler.TriggerIngest)
			admin.GET("/ingest/status", adminHandler.GetIngestStatus)
		}
	}

	return r
}
