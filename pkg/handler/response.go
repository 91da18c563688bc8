package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/service"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"
	userContextKey = "chathub.user"
)

// UserMiddleware resolves the acting user from the request headers.
// Requests without X-User-ID act as defaultUser.
func UserMiddleware(defaultUser string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerUserID))
		if id == "" {
			id = defaultUser
		}
		c.Set(userContextKey, models.User{ID: id, FirstName: strings.TrimSpace(c.GetHeader(headerUserName))})
		c.Next()
	}
}

// CurrentUser returns the user set by UserMiddleware.
func CurrentUser(c *gin.Context) models.User {
	if v, ok := c.Get(userContextKey); ok {
		if u, ok := v.(models.User); ok {
			return u
		}
	}
	return models.User{}
}

// CurrentUserID is CurrentUser(c).ID.
func CurrentUserID(c *gin.Context) string {
	return CurrentUser(c).ID
}

// statusFor maps a service error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBadRequest), errors.Is(err, service.ErrInvalidConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the error envelope. Once a stream has started
// the status line is gone, so the error is only logged.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	if c.Writer.Written() {
		logger.Warn("Error after response started", "path", c.FullPath(), "error", err)
		return
	}
	message := service.Message(err)
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		message = "Internal server error"
	}
	c.JSON(status, models.Response{Code: status, Message: message})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.Response{Code: http.StatusBadRequest, Message: "Invalid request parameters: " + err.Error()})
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: message, Data: data})
}
