package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/storelink/meli-auth/internal/config"
	"github.com/storelink/meli-auth/internal/http/handler"
	httpmiddleware "github.com/storelink/meli-auth/internal/http/middleware"
	"github.com/storelink/meli-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, tokenHandler *handler.TokenHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", tokenHandler.Authorize)
		oauth.POST("/token", tokenHandler.Exchange)

		tokens := oauth.Group("/tokens")
		{
			tokens.GET("", tokenHandler.ListTokens)
			tokens.GET("/active", tokenHandler.ActiveToken)
			tokens.GET("/:id", tokenHandler.GetToken)
			tokens.DELETE("/:id", tokenHandler.RevokeToken)
			tokens.POST("/cleanup", tokenHandler.CleanupTokens)
		}
	}

	api := r.Group("/api")
	{
		api.GET("/users/me", tokenHandler.Me)
	}

	return r
}
