package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	pricingdomain "github.com/meterwise/meterwise/internal/pricing/domain"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware turns domain sentinel errors recorded on the gin
// context into JSON error responses after the handler chain runs.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, meteringdomain.ErrInvalidDate),
		errors.Is(err, statementdomain.ErrInvalidDate),
		errors.Is(err, paymentdomain.ErrInvalidRequest),
		errors.Is(err, ownerdomain.ErrInvalidOwnerKind):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "invalid request",
		}

	case errors.Is(err, statementdomain.ErrStatementNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, ownerdomain.ErrOwnerNotFound),
		errors.Is(err, registrydomain.ErrResourceNotFound),
		errors.Is(err, pricingdomain.ErrPriceNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    err.Error(),
			Message: "resource not found",
		}

	case errors.Is(err, paymentdomain.ErrStatementPaid),
		errors.Is(err, paymentdomain.ErrStatementCancelled):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    err.Error(),
			Message: "statement is not payable",
		}

	case errors.Is(err, paymentdomain.ErrBalanceNotEnough):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    "balance_not_enough",
			Message: "insufficient balance to settle the statement",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}
