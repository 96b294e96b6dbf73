package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mongo-signup/server/internal/logging"
	"github.com/mongo-signup/server/internal/users"
)

type handler struct {
	svc    *users.Service
	tokens *Tokens
	logger zerolog.Logger
	events EventRecorder
}

type session struct {
	User      *users.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (h *handler) signup(c *gin.Context) {
	var req users.SignupRequest
	if err := c.ShouldBind(&req); err != nil {
		h.bindFailed(c, "signup", err)
		return
	}

	u, err := h.svc.Signup(c.Request.Context(), req)
	switch {
	case errors.Is(err, users.ErrInvalidInput):
		h.events.AuthEvent("signup", "invalid")
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: inputMessage(err)})
		return
	case errors.Is(err, users.ErrEmailTaken):
		h.events.AuthEvent("signup", "conflict")
		c.JSON(http.StatusConflict, Response{Success: false, Message: "Email already registered"})
		return
	case err != nil:
		h.events.AuthEvent("signup", "error")
		_ = c.Error(err)
		return
	}

	s, err := h.session(u)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.events.AuthEvent("signup", "ok")
	logging.FromContext(c.Request.Context()).Info().Str("user_id", u.ID.Hex()).Msg("user signed up")
	c.JSON(http.StatusCreated, Response{Success: true, Data: s})
}

func (h *handler) login(c *gin.Context) {
	var req users.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.bindFailed(c, "login", err)
		return
	}

	u, err := h.svc.Authenticate(c.Request.Context(), req)
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		h.events.AuthEvent("login", "invalid")
		logging.FromContext(c.Request.Context()).Info().Msg("login rejected")
		c.JSON(http.StatusUnauthorized, Response{Success: false, Message: "Invalid email or password"})
		return
	case err != nil:
		h.events.AuthEvent("login", "error")
		_ = c.Error(err)
		return
	}

	s, err := h.session(u)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.events.AuthEvent("login", "ok")
	c.JSON(http.StatusOK, Response{Success: true, Data: s})
}

func (h *handler) me(c *gin.Context) {
	u, err := h.svc.Get(c.Request.Context(), UserID(c))
	if errors.Is(err, users.ErrNotFound) {
		logging.FromContext(c.Request.Context()).Warn().
			Str("user_id", UserID(c)).
			Str("email", Email(c)).
			Msg("valid token for a user that no longer exists")
		c.JSON(http.StatusNotFound, Response{Success: false, Message: "User not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"user": u}})
}

// bindFailed answers a body that could not be decoded. Bodies cut off by
// the size limit get 413 even when their length was not declared up front.
func (h *handler) bindFailed(c *gin.Context, event string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.events.AuthEvent(event, "too_large")
		c.JSON(http.StatusRequestEntityTooLarge, Response{Success: false, Message: "Request body too large"})
		return
	}
	h.events.AuthEvent(event, "bad_request")
	c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Invalid request body"})
}

func (h *handler) session(u *users.User) (*session, error) {
	token, exp, err := h.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &session{User: u, Token: token, ExpiresAt: exp}, nil
}

// inputMessage strips the sentinel prefix from a validation error.
func inputMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), users.ErrInvalidInput.Error()+": ")
	if msg == "" {
		return "Invalid input"
	}
	return msg
}
