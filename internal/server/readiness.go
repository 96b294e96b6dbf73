package server

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mongo-signup/server/internal/auth"
)

// State is the server's readiness with respect to its database.
type State int32

const (
	// StateStarting: listening, database connection still pending.
	StateStarting State = iota
	// StateReady: database connected, auth routes mounted.
	StateReady
	// StateDegraded: the connection attempt failed; auth routes stay unmounted.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// AuthMount holds the auth router once the database is available. Until
// then requests under its prefix get 503 (still connecting) or the regular
// 404 (connection failed).
type AuthMount struct {
	state      atomic.Int32
	handler    atomic.Pointer[http.Handler]
	retryAfter time.Duration
}

func NewAuthMount(retryAfter time.Duration) *AuthMount {
	return &AuthMount{retryAfter: retryAfter}
}

func (m *AuthMount) State() State {
	return State(m.state.Load())
}

// Mount publishes h and moves to StateReady. Only the first transition out
// of StateStarting takes effect.
func (m *AuthMount) Mount(h http.Handler) bool {
	m.handler.Store(&h)
	return m.state.CompareAndSwap(int32(StateStarting), int32(StateReady))
}

// Fail records that the database is unavailable.
func (m *AuthMount) Fail() bool {
	return m.state.CompareAndSwap(int32(StateStarting), int32(StateDegraded))
}

// Handle dispatches a request under the auth prefix.
func (m *AuthMount) Handle(c *gin.Context) {
	switch m.State() {
	case StateReady:
		h := m.handler.Load()
		(*h).ServeHTTP(c.Writer, c.Request)
	case StateStarting:
		secs := int(m.retryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusServiceUnavailable, auth.Response{
			Success: false,
			Message: "Authentication service is starting, try again shortly",
		})
	default:
		auth.NotFound(c)
	}
}
