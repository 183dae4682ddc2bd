package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/applabs/tollquery/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint, outside the authenticated group
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		health := gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		}

		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				health["status"] = "degraded"
				health["database"] = err.Error()
			}
		}

		c.JSON(status, health)
	})

	consultaHandler := handler.NewConsultaHandler(deps)
	reportHandler := handler.NewReportHandler(deps)

	// All lookup and reporting routes require client credentials
	api := r.Group("/api")
	api.Use(AuthMiddleware(deps.ClientID, deps.ClientSecret, deps.Logger))
	{
		// POST /api/consulta - Panapass account balances, resolved inline
		api.POST("/consulta", consultaHandler.AccountLookup)

		// POST /api/consulta-placa - Submit an asynchronous batch
		api.POST("/consulta-placa", consultaHandler.SubmitBatch)

		// GET /api/consulta-status/:id - Poll batch progress
		api.GET("/consulta-status/:id", consultaHandler.GetStatus)

		// POST /api/consulta-placa-sync - Run a size-capped batch inline
		api.POST("/consulta-placa-sync", consultaHandler.SubmitSync)

		// POST /api/consulta-directa - Single lookup, never persisted
		api.POST("/consulta-directa", consultaHandler.DirectLookup)

		// GET /api/historial/:plate - Lookup history for one plate
		api.GET("/historial/:plate", reportHandler.History)

		// GET /api/estadisticas - Global aggregates
		api.GET("/estadisticas", reportHandler.Stats)

		// GET /api/estadisticas-lotes - Aggregates per execution marker
		api.GET("/estadisticas-lotes", reportHandler.StatsByBatch)

		// GET /api/lote/:marker - Rows persisted under one marker
		api.GET("/lote/:marker", reportHandler.BatchDetail)
	}

	return r
}
