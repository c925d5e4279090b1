package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/manateeit/mit-psa-sub005/internal/middleware"
	"github.com/manateeit/mit-psa-sub005/internal/models"
)

func tenantFromContext(c *gin.Context) string {
	value, exists := c.Get(middleware.ContextClaimsKey)
	if !exists {
		return ""
	}
	claims, ok := value.(*models.TenantClaims)
	if !ok {
		return ""
	}
	return claims.TenantID
}
