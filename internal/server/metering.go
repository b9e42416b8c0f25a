package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	"github.com/meterwise/meterwise/pkg/db/option"
	"github.com/meterwise/meterwise/pkg/db/pagination"
)

type runMeteringRequest struct {
	Day      string `json:"day"`
	FailFast bool   `json:"fail_fast"`
}

func (s *Server) runMetering(c *gin.Context) {
	var body runMeteringRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	req := meteringdomain.RunRequest{FailFast: body.FailFast}
	if body.Day != "" {
		day, err := parseDay(body.Day)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Day = &day
	}

	summary, err := s.meteringSvc.Run(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   summary.Count,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	})
}

func (s *Server) listUsageRecords(c *gin.Context) {
	filter := meteringdomain.ListFilter{}

	if kind := c.Query("owner_kind"); kind != "" {
		owner, err := parseOwner(kind, c.Query("owner_id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		filter.Owner = &owner
	}
	if raw := c.Query("resource_id"); raw != "" {
		id, err := parseSnowflake(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		filter.ResourceID = id
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
	records, err := s.meteringSvc.List(c.Request.Context(), filter,
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(p),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, pageInfo := pageOf(records, p.PageSize, func(r *meteringdomain.UsageRecord) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String(), CreatedAt: r.CreatedAt.Format(time.RFC3339Nano)}
	})

	c.JSON(http.StatusOK, gin.H{
		"usage_records": records,
		"page_info":     pageInfo,
	})
}
