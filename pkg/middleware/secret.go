package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookSecretHeader は内部Webhookの共有シークレットを送るヘッダー名。
const WebhookSecretHeader = "X-Webhook-Secret"

// SharedSecret はヘッダーの値が共有シークレットと一致することを要求するGinミドルウェアを返す。
// secretが空の場合はすべてのリクエストを拒否する。
func SharedSecret(header, secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(header))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "共有シークレットが一致しません",
				"code":  "unauthenticated",
			})
			return
		}
		c.Next()
	}
}
