package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
	"github.com/meterwise/meterwise/pkg/db/option"
	"github.com/meterwise/meterwise/pkg/db/pagination"
)

type generateStatementsRequest struct {
	Date     string `json:"date" binding:"required"`
	FailFast bool   `json:"fail_fast"`
}

func (s *Server) generateStatements(c *gin.Context) {
	var body generateStatementsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	date, err := parseDay(body.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.statementSvc.Run(c.Request.Context(), statementdomain.RunRequest{
		Date:     date,
		FailFast: body.FailFast,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   summary.Count,
		"records": summary.Records,
		"failed":  summary.Failed,
	})
}

func (s *Server) listStatements(c *gin.Context) {
	filter := statementdomain.ListFilter{
		Status: statementdomain.PaymentStatus(c.Query("status")),
	}

	if kind := c.Query("owner_kind"); kind != "" {
		owner, err := parseOwner(kind, c.Query("owner_id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		filter.Owner = &owner
	}
	if raw := c.Query("date"); raw != "" {
		date, err := parseDay(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		filter.Date = &date
	}

	p := bindPagination(c)
	statements, err := s.statementSvc.List(c.Request.Context(), filter,
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(p),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statements, pageInfo := pageOf(statements, p.PageSize, func(st *statementdomain.DailyStatement) pagination.Cursor {
		return pagination.Cursor{ID: st.ID.String(), CreatedAt: st.CreatedAt.Format(time.RFC3339Nano)}
	})

	c.JSON(http.StatusOK, gin.H{
		"statements": statements,
		"page_info":  pageInfo,
	})
}

func (s *Server) getStatement(c *gin.Context) {
	id, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statement, err := s.statementSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, statement)
}

type payStatementRequest struct {
	AppID                string `json:"app_id"`
	Subject              string `json:"subject"`
	Executor             string `json:"executor"`
	Remark               string `json:"remark"`
	RequireEnoughBalance bool   `json:"require_enough_balance"`
}

func (s *Server) payStatement(c *gin.Context) {
	id, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body payStatementRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	if body.AppID == "" {
		body.AppID = s.cfg.Settlement.PayerAppID
	}
	if body.Executor == "" {
		body.Executor = "api"
	}

	record, err := s.paymentSvc.PayDailyStatement(c.Request.Context(), paymentdomain.PayRequest{
		StatementID:          id,
		AppID:                body.AppID,
		Subject:              body.Subject,
		Executor:             body.Executor,
		Remark:               body.Remark,
		RequireEnoughBalance: body.RequireEnoughBalance,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if record == nil {
		// Zero-payable statements settle without a payment record.
		c.JSON(http.StatusOK, gin.H{"status": "paid"})
		return
	}

	c.JSON(http.StatusOK, record)
}
