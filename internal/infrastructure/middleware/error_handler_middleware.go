package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/pkg/errors"
)

// ErrorHandlerMiddleware turns errors attached to the gin context into
// structured HTTP responses. Domain sentinels map to their natural status
// codes; everything else falls back to AppError or a plain 500.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if appErr := errors.GetAppError(err); appErr != nil {
			logger.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
			)

			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		if status, code := domainStatus(err); status != 0 {
			logger.Infow("request failed",
				"error", err.Error(),
				"status", status,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.JSON(status, gin.H{
				"error":   string(code),
				"message": err.Error(),
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

func domainStatus(err error) (int, errors.ErrorCode) {
	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound),
		stderrors.Is(err, domain.ErrPairNotFound):
		return http.StatusNotFound, errors.ErrCodeNotFound
	case stderrors.Is(err, domain.ErrInvalidCode):
		return http.StatusBadRequest, errors.ErrCodeInvalidInput
	case stderrors.Is(err, domain.ErrAlreadyPairing):
		return http.StatusConflict, errors.ErrCodeConflict
	case stderrors.Is(err, domain.ErrConnectionClosed),
		stderrors.Is(err, domain.ErrNoActivePeer):
		return http.StatusConflict, errors.ErrCodeConflict
	case stderrors.Is(err, domain.ErrBroadcastOff):
		return http.StatusConflict, errors.ErrCodeConflict
	default:
		return 0, ""
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
