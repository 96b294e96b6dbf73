// Package auth serves the signup, login and current-user routes under /api/auth.
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mongo-signup/server/internal/middleware"
	"github.com/mongo-signup/server/internal/users"
)

// Prefix is where the router expects to be mounted.
const Prefix = "/api/auth"

// Response is the envelope used by every auth route.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// EventRecorder receives signup and login outcomes, e.g. for metrics.
type EventRecorder interface {
	AuthEvent(event, result string)
}

type nopRecorder struct{}

func (nopRecorder) AuthEvent(string, string) {}

// Option configures NewRouter.
type Option func(*handler)

// WithLogger sets the logger used for unhandled errors.
func WithLogger(l zerolog.Logger) Option {
	return func(h *handler) { h.logger = l }
}

// WithRecorder sets where auth events are reported.
func WithRecorder(r EventRecorder) Option {
	return func(h *handler) {
		if r != nil {
			h.events = r
		}
	}
}

// NewRouter builds the auth routes over svc. The returned engine matches
// full request paths, so it can be handed requests for Prefix unchanged.
func NewRouter(svc *users.Service, tokens *Tokens, opts ...Option) *gin.Engine {
	h := &handler{
		svc:    svc,
		tokens: tokens,
		logger: zerolog.Nop(),
		events: nopRecorder{},
	}
	for _, opt := range opts {
		opt(h)
	}

	r := gin.New()
	r.Use(middleware.Recovery(h.logger), middleware.ErrorHandler(h.logger))

	g := r.Group(Prefix)
	{
		g.POST("/signup", h.signup)
		g.POST("/register", h.signup)
		g.POST("/login", h.login)
		g.GET("/me", RequireToken(tokens), h.me)
	}

	r.NoRoute(NotFound)
	return r
}

// NotFound is the body for unknown routes, shared with the outer server so
// an unmounted prefix looks the same as an unknown sub-route.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{Success: false, Message: "Route not found"})
}
