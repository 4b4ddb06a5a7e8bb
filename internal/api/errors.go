package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trading-gateway/internal/gateway"
	"trading-gateway/internal/session"
	"trading-gateway/internal/state"
	"trading-gateway/pkg/credentials"
	"trading-gateway/pkg/exchanges/common"
)

// statusFor maps a gateway error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, state.ErrPositionNotFound):
		return http.StatusNotFound, "POSITION_NOT_FOUND"
	case errors.Is(err, state.ErrPositionClosed):
		return http.StatusConflict, "POSITION_CLOSED"
	case errors.Is(err, state.ErrPositionClosing):
		return http.StatusConflict, "POSITION_CLOSING"
	case errors.Is(err, session.ErrVerificationInProgress):
		return http.StatusConflict, "VERIFICATION_IN_PROGRESS"
	case errors.Is(err, gateway.ErrGatewayUnhealthy), errors.Is(err, gateway.ErrPoolFull):
		return http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"
	case errors.Is(err, credentials.ErrNotFound):
		return http.StatusNotFound, "ACCOUNT_NOT_FOUND"
	}

	kind := common.KindOf(err)
	switch kind {
	case common.KindSessionInactive:
		return http.StatusConflict, string(kind)
	case common.KindRiskLimitExceeded:
		return http.StatusUnprocessableEntity, string(kind)
	case common.KindSignatureRetriesExhausted:
		return http.StatusGatewayTimeout, string(kind)
	case common.KindInvalidCredentialFormat:
		return http.StatusBadRequest, string(kind)
	default:
		return http.StatusBadGateway, string(kind)
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func badRequest(c *gin.Context, code string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": code, "error": err.Error()})
}
