package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"launchpad/internal/handlers"
	"launchpad/internal/middleware"
)

// RouterConfig carries what the router needs beyond the handlers
type RouterConfig struct {
	AllowedOrigins []string
	MintLimiter    *middleware.RateLimiter
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(svc handlers.LaunchService, cfg RouterConfig) *gin.Engine {
	r := gin.Default()

	r.Any("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.Identity())

	SetupLaunchRoutes(r, handlers.NewLaunchHandler(svc), cfg.MintLimiter)
	r.GET("/socket", handlers.NewSocketHandler(svc, cfg.MintLimiter, cfg.AllowedOrigins).Serve)

	return r
}

// SetupLaunchRoutes sets up the presale and token creation routes
func SetupLaunchRoutes(r *gin.Engine, h *handlers.LaunchHandler, limiter *middleware.RateLimiter) {
	api := r.Group("/api")
	{
		mint := []gin.HandlerFunc{h.Mint}
		if limiter != nil {
			mint = append([]gin.HandlerFunc{limiter.PerWallet()}, mint...)
		}
		api.POST("/launch/mint", mint...)
		api.POST("/create-launch", h.CreateLaunch)
		api.POST("/token/create", h.CreateToken)
	}
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With, "+middleware.HeaderUserID+", "+middleware.HeaderWalletAddress)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
