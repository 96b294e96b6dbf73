package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessPingTimeout = 2 * time.Second

// liveness reports that the process is serving requests.
func liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readiness returns 200 only when the auth routes are mounted and the
// database answers a ping.
func (a *App) readiness(c *gin.Context) {
	state := a.mount.State()
	body := gin.H{"status": state.String(), "database": "unavailable"}

	if state != StateReady {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	store := a.currentStore()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessPingTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("readiness ping failed")
		body["database"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	body["database"] = "connected"
	c.JSON(http.StatusOK, body)
}
