package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"foodrescue/internal/config"
)

// CORS Cross-Origin Resource Sharing middleware
func CORS(cfg *config.Config) gin.HandlerFunc {
	c := cors.DefaultConfig()

	if len(cfg.Security.CORS.AllowOrigins) > 0 {
		c.AllowOrigins = cfg.Security.CORS.AllowOrigins
	} else {
		c.AllowAllOrigins = true
	}

	if len(cfg.Security.CORS.AllowMethods) > 0 {
		c.AllowMethods = cfg.Security.CORS.AllowMethods
	}

	if len(cfg.Security.CORS.AllowHeaders) > 0 {
		c.AllowHeaders = cfg.Security.CORS.AllowHeaders
	} else {
		c.AllowHeaders = []string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Authorization",
			"Accept",
			"X-Requested-With",
		}
	}

	c.AllowCredentials = cfg.Security.CORS.AllowCredentials && !c.AllowAllOrigins
	if cfg.Security.CORS.MaxAge > 0 {
		c.MaxAge = time.Duration(cfg.Security.CORS.MaxAge) * time.Second
	}

	return cors.New(c)
}
