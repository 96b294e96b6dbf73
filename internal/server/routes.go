package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mongo-signup/server/internal/auth"
	"github.com/mongo-signup/server/internal/middleware"
)

// routes builds the outer engine. Middleware runs in the order listed.
func (a *App) routes() (*gin.Engine, error) {
	r := gin.New()
	// The rate limiter keys on the socket address; forwarded headers are
	// not trusted.
	if err := r.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	r.Use(
		middleware.RequestID(),
		middleware.Recovery(a.logger),
		middleware.AccessLog(a.logger),
		a.metrics.Middleware(),
		middleware.SecurityHeaders(),
		middleware.CORS(),
		middleware.BodyLimit(a.cfg.BodyLimit),
		middleware.RateLimit(a.limiter, a.logger, a.metrics.RateLimited),
		middleware.ErrorHandler(a.logger),
	)

	r.GET("/api/key", a.apiKey)
	r.GET("/", landingPage(a.cfg.PublicDir))
	r.Any(auth.Prefix, a.mount.Handle)
	r.Any(auth.Prefix+"/*path", a.mount.Handle)

	r.GET("/healthz", liveness)
	r.GET("/readyz", a.readiness)
	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	r.NoRoute(staticFiles(a.cfg.PublicDir))
	return r, nil
}

// apiKey returns the configured key verbatim; null when API_KEY is unset.
func (a *App) apiKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"apiKey": a.cfg.APIKey})
}
