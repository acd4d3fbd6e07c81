package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"debate_arena/internal/service"
)

// RateLimitMiddleware 用分散式滑動窗口保護寫入端點，
// 以已認證的用戶身份作為計量鍵
func RateLimitMiddleware(limiter *service.RateLimiter, quota int, windowSeconds int) gin.HandlerFunc {
	window := time.Duration(windowSeconds) * time.Second

	return func(c *gin.Context) {
		userID, exists := c.Get("userID")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			c.Abort()
			return
		}

		result := limiter.Check(c.Request.Context(), service.SubmitKey(userID.(uint)), quota, window, true)
		if !result.Allowed {
			seconds := int(result.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "請求太頻繁，請稍後再試",
				"retry_after": seconds,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
