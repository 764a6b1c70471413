package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS は管理用Web UIのオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// 手動送信と管理APIはAuthorizationヘッダー付きのJSONを送るため、ブラウザは先にプリフライトを行う。
// プリフライト（OPTIONS）はオリジンにかかわらず204で終了し、後続の認証には進まない。
// 状態変更Webhookはサーバー間の呼び出しなので共有シークレットのヘッダーは許可しない。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		c.Header("Vary", "Origin")
		if _, ok := allowed[c.GetHeader("Origin")]; ok {
			c.Header("Access-Control-Allow-Origin", c.GetHeader("Origin"))
			// 送信はPOST、ラウンド状態とスケジュールの更新はPUT
			c.Header("Access-Control-Allow-Methods", "POST, PUT, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Max-Age", "600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
