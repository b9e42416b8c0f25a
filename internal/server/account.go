package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getAccount(c *gin.Context) {
	owner, err := parseOwner(c.Param("kind"), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.ownerSvc.Resolve(c.Request.Context(), owner); err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.ownerSvc.GetAccount(c.Request.Context(), owner)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if account == nil {
		c.JSON(http.StatusOK, gin.H{
			"owner_id":   owner.ID.String(),
			"owner_kind": owner.Kind,
			"balance":    "0",
		})
		return
	}

	c.JSON(http.StatusOK, account)
}

func (s *Server) listCoupons(c *gin.Context) {
	owner, err := parseOwner(c.Query("owner_kind"), c.Query("owner_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	coupons, err := s.couponSvc.List(c.Request.Context(), owner)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}
