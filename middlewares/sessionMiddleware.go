package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
)

// SessionMiddleware resolves the `token` header against the redis
// session store and stamps the actor identity into the request context.
// Requests without a token pass through; route handlers decide whether
// an identity is required.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = context.WithValue(ctx, utils.ContextKeyUsername, username)

		user, err := models.GetUserByUsername(ctx, username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		ctx = utils.SetBusinessIdInContext(ctx, user.BusinessId)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetIsAdminInContext(ctx, user.Role == models.UserRoleAdmin)

		// current shelf is UI session state, carried per request
		if loc := c.Request.Header.Get("x-current-location"); loc != "" {
			ctx = context.WithValue(ctx, utils.ContextKeyCurrentLocation, utils.NormalizeKey(loc))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
