package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter builds the read-only diagnostics API. Artifacts under diagDir
// are served at /files/diagnostics.
func SetupRouter(handler *Handler, diagDir string, isDebug bool) *gin.Engine {
	var r *gin.Engine
	if isDebug {
		gin.SetMode(gin.DebugMode)
		r = gin.Default()
	} else {
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
		r.Use(gin.Recovery())
	}

	// TraceID 中间件 - 必须在其他中间件之前
	r.Use(TraceIDMiddleware())
	r.Use(AccessLogMiddleware())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Trace-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Trace-ID"},
		AllowCredentials: false,
	}))

	r.GET("/health", handler.Health)

	r.Static(filesPrefix, diagDir)

	api := r.Group("/api/v1")
	{
		diagnostics := api.Group("/diagnostics")
		{
			diagnostics.GET("", handler.ListDiagnostics)
			diagnostics.GET("/:id", handler.GetDiagnostic)
		}

		executions := api.Group("/executions")
		{
			executions.GET("", handler.ListScriptExecutions)
			executions.GET("/:id", handler.GetScriptExecution)
		}
	}

	return r
}
