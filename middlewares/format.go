package middlewares

import (
	"errors"
	"net/http"

	"RoyRemind/services"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response to the client.
func RespondJSON(c *gin.Context, data interface{}, status int) {
	c.JSON(status, data)
}

// HttpError logs an error and writes an HTTP error response to the client.
func HttpError(c *gin.Context, message string, status int, err error) {
	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error(message, fields...)
	} else {
		zap.L().Info(message, fields...)
	}
	c.JSON(status, gin.H{"error": message})
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	var verrs validation.Errors
	var cfgErr *services.ScheduleConfigError
	switch {
	case errors.As(err, &verrs), errors.As(err, &cfgErr), errors.Is(err, services.ErrInvalidTemplate):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAppointmentCancelled),
		errors.Is(err, services.ErrConcurrencyConflict),
		errors.Is(err, services.ErrLockNotAcquired):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// RespondError writes err with the status StatusFor picks. Server errors hide the detail.
func RespondError(c *gin.Context, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	HttpError(c, message, status, err)
}
