package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	"github.com/meterwise/meterwise/pkg/db/pagination"
)

func parseSnowflake(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidRequest
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

func parseOwner(kindRaw, idRaw string) (ownerdomain.Owner, error) {
	kind := ownerdomain.OwnerKind(strings.ToLower(strings.TrimSpace(kindRaw)))
	if !kind.Valid() {
		return ownerdomain.Owner{}, ownerdomain.ErrInvalidOwnerKind
	}
	id, err := parseSnowflake(idRaw)
	if err != nil {
		return ownerdomain.Owner{}, err
	}
	return ownerdomain.Owner{Kind: kind, ID: id}, nil
}

func parseDay(raw string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidRequest
	}
	return day.UTC(), nil
}

func bindPagination(c *gin.Context) pagination.Pagination {
	var p pagination.Pagination
	_ = c.ShouldBindQuery(&p)
	if p.PageSize <= 0 {
		p.PageSize = 10
	}
	if p.PageSize > 250 {
		p.PageSize = 250
	}
	return p
}

// pageOf trims the extra row fetched by the pagination option and builds
// the cursor for the next page.
func pageOf[T any](items []*T, size int, cursorFor func(*T) pagination.Cursor) ([]*T, *pagination.PageInfo) {
	info := pagination.BuildCursorPageInfo(items, int32(size), func(item *T) string {
		token, err := pagination.EncodeCursor(cursorFor(item))
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > size {
		items = items[:size]
	}
	return items, info
}
