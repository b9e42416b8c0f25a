package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meterwise/meterwise/internal/settlement"
)

type runBatchPaymentRequest struct {
	Date                 string `json:"date"`
	RequireEnoughBalance bool   `json:"require_enough_balance"`
}

func (s *Server) runBatchPayment(c *gin.Context) {
	var body runBatchPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	req := settlement.RunRequest{RequireEnoughBalance: body.RequireEnoughBalance}
	if body.Date != "" {
		date, err := parseDay(body.Date)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Date = &date
	}

	summary, err := s.runner.Run(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":         summary.Count,
		"success_count": summary.SuccessCount,
		"failed_count":  summary.FailedCount,
	})
}

func (s *Server) getPayment(c *gin.Context) {
	id, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}
