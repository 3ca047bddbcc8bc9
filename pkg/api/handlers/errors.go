package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ninho/pkg/api/types"
	"github.com/urmzd/ninho/pkg/device"
)

var statusByKind = map[string]int{
	device.KindNotConnected:     http.StatusConflict,
	device.KindBusy:             http.StatusConflict,
	device.KindCommandTimeout:   http.StatusGatewayTimeout,
	device.KindDeviceError:      http.StatusBadGateway,
	device.KindNoPortSelected:   http.StatusBadRequest,
	device.KindValidation:       http.StatusBadRequest,
	device.KindInvalidFirmware:  http.StatusBadRequest,
	device.KindPermissionDenied: http.StatusForbidden,
	device.KindNotSupported:     http.StatusNotImplemented,
	device.KindUnsupported:      http.StatusNotImplemented,
	device.KindDisconnected:     http.StatusServiceUnavailable,
	device.KindFlashFailed:      http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind string) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ErrorBody builds the JSON error for err.
func ErrorBody(err error) types.ErrorResponse {
	return types.ErrorResponse{
		Error:     device.KindOf(err),
		Message:   err.Error(),
		Retryable: device.Retryable(err),
	}
}

// ErrorKindKey is the context key the request logger reads the error kind from.
const ErrorKindKey = "error_kind"

func respondError(c *gin.Context, err error) {
	kind := device.KindOf(err)
	status := StatusFor(kind)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	c.Set(ErrorKindKey, kind)
	_ = c.Error(err)
	c.JSON(status, ErrorBody(err))
}

func badRequest(c *gin.Context, msg string) {
	c.Set(ErrorKindKey, device.KindValidation)
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   device.KindValidation,
		Message: msg,
	})
}
