package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/config"
	"github.com/gin-gonic/gin"
)

const AccountKey = "account"

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Check session still valid in cache.
		sessionKey := "session:" + tokenStr
		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, sessionKey)
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(AccountKey, claims.Account)
		ctx.Next()
	}
}

// GetAccount retrieves the authenticated wallet address from the Gin context.
func GetAccount(c *gin.Context) chain.Address {
	if v, exists := c.Get(AccountKey); exists {
		return chain.Address(v.(string)).Normalize()
	}
	return ""
}
