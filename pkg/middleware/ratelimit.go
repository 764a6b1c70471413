package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit はトークンバケットでリクエスト数を制限するGinミドルウェアを返す。
// 上限を超えたリクエストは429で拒否する。全呼び出し元で1つのバケットを共有する。
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(limit, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "リクエストが多すぎます。しばらくしてから再試行してください",
				"code":  "resource-exhausted",
			})
			return
		}
		c.Next()
	}
}
