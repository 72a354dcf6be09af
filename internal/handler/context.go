package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/presensia/presensia-api/internal/middleware"
	"github.com/presensia/presensia-api/internal/models"
)

// currentClaims returns the JWT claims attached by the auth middleware.
func currentClaims(c *gin.Context) (*models.JWTClaims, bool) {
	raw, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil, false
	}
	claims, ok := raw.(*models.JWTClaims)
	return claims, ok
}
