package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bizpulse-backend/internal/analysis"
	"bizpulse-backend/internal/review"
	"bizpulse-backend/internal/shared/config"
	"bizpulse-backend/internal/shared/metrics"
	"bizpulse-backend/internal/shared/server/middleware"
	"bizpulse-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analysis.Handler
	AnalysisWS      *analysis.WSHandler
	ReviewHandler   *review.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				"TRIGGER": {Rate: 1, Burst: 5},
				"DEFAULT": {Rate: 10, Burst: 30},
			},
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/analysis") {
					return "TRIGGER"
				}
				return "DEFAULT"
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	if deps.ReviewHandler != nil {
		deps.ReviewHandler.RegisterRoutes(api)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}
	if deps.AnalysisWS != nil {
		deps.AnalysisWS.RegisterRoutes(r)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
