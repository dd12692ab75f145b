package http

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// writeError renders err as an ErrorResponse; unknown errors become INTERNAL_ERROR.
func writeError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	c.AbortWithStatusJSON(StatusFromCode(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeInvalidInput:
		return nethttp.StatusBadRequest

	case apperrors.ErrCodeAlreadyConnected,
		apperrors.ErrCodeNotConnected,
		apperrors.ErrCodeCaptureInUse,
		apperrors.ErrCodeJoinCancelled:
		return nethttp.StatusConflict

	case apperrors.ErrCodeRateLimitExceeded:
		return nethttp.StatusTooManyRequests

	case apperrors.ErrCodeMediaAccessDenied,
		apperrors.ErrCodeSessionUnavailable:
		return nethttp.StatusServiceUnavailable

	case apperrors.ErrCodeSignalingDelivery,
		apperrors.ErrCodeTransportNegotiation:
		return nethttp.StatusBadGateway

	default:
		return nethttp.StatusInternalServerError
	}
}
