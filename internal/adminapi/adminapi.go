package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
)

const sessionContextKey = "wa_session"

var (
	appConfig *config.AppConfig
	sessions  *whatsapp.Service
)

// Init registers every api route on the web server for svc.
func Init(cfg *config.AppConfig, svc *whatsapp.Service) {
	appConfig = cfg
	sessions = svc
	registerInstanceRoutes()
	registerMessageRoutes()
	registerGroupRoutes()
	registerMiscRoutes()
	registerSystemRoutes()
}

type Response struct {
	Error   bool        `json:"error"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Data: data})
}

// created answers command routes.
func created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, Response{Data: data})
}

func done(c echo.Context, message string) error {
	return c.JSON(http.StatusOK, Response{Message: message})
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, Response{Error: true, Code: code, Message: message, Details: details})
}

// failErr maps service errors onto api errors.
func failErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, whatsapp.ErrDuplicateSession):
		return fail(c, http.StatusConflict, "DUPLICATE_SESSION", "instance already exists", nil)
	case errors.Is(err, whatsapp.ErrSessionNotFound):
		return fail(c, http.StatusNotFound, "SESSION_NOT_FOUND", "invalid key supplied", nil)
	case errors.Is(err, whatsapp.ErrSessionTerminated):
		return fail(c, http.StatusGone, "SESSION_TERMINATED", "instance is logged out", nil)
	case errors.Is(err, whatsapp.ErrGroupNotFound):
		return fail(c, http.StatusNotFound, "GROUP_NOT_FOUND", "group not found", nil)
	case errors.Is(err, whatsapp.ErrRecipientNotFound):
		return fail(c, http.StatusNotFound, "RECIPIENT_NOT_FOUND", "no account exists", nil)
	case errors.Is(err, whatsapp.ErrInvalidJID):
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid id", err.Error())
	case errors.Is(err, whatsapp.ErrInvalidAction):
		return fail(c, http.StatusBadRequest, "INVALID_ACTION", "invalid action", nil)
	case errors.Is(err, whatsapp.ErrInvalidPresence):
		return fail(c, http.StatusBadRequest, "INVALID_STATUS",
			"status parameter must be one of unavailable, available, composing, recording, paused", nil)
	case errors.Is(err, whatsapp.ErrNotConnected):
		return fail(c, http.StatusServiceUnavailable, "NOT_CONNECTED", "phone isn't connected", nil)
	}
	zap.L().Warn("adminapi: request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "request failed", err.Error())
}

// failResult reports the structured failure of a protocol call.
func failResult(c echo.Context, res *whatsapp.Result) error {
	return fail(c, http.StatusBadRequest, "ACTION_FAILED", res.Message, nil)
}

// keyVerify resolves ?key= into a session.
func keyVerify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.QueryParam("key")
		if key == "" {
			return fail(c, http.StatusForbidden, "INVALID_KEY", "invalid key supplied", nil)
		}
		sess, err := sessions.Get(key)
		if err != nil {
			return fail(c, http.StatusForbidden, "INVALID_KEY", "invalid key supplied", nil)
		}
		c.Set(sessionContextKey, sess)
		return next(c)
	}
}

// loginVerify rejects sessions whose phone is not connected.
func loginVerify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !session(c).Online() {
			return fail(c, http.StatusUnauthorized, "NOT_CONNECTED", "phone isn't connected", nil)
		}
		return next(c)
	}
}

func session(c echo.Context) *whatsapp.Session {
	return c.Get(sessionContextKey).(*whatsapp.Session)
}

// msDelay reads a loosely typed millisecond delay.
func msDelay(v interface{}) time.Duration {
	ms := cast.ToInt64(v)
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func badRequest(c echo.Context, err error) error {
	return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
}
