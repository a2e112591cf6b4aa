package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opendataops/ingestd/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "ingest-api-service",
		})
	})

	datasetHandler := handler.NewDatasetHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		datasets := v1.Group("/datasets")
		{
			// POST /api/v1/datasets/:id/fetch - Queue an ingestion job
			datasets.POST("/:id/fetch", datasetHandler.FetchDataset)

			// GET /api/v1/datasets/:id/status - Latest progress message
			datasets.GET("/:id/status", datasetHandler.DatasetStatus)
		}

		// GET /api/v1/jobs/:job_id - Job status and latest message
		v1.GET("/jobs/:job_id", datasetHandler.GetJob)
	}

	return r
}
