package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// issuer はトークンの発行者名。
const issuer = "fogpush"

// contextKeyUID はGinコンテキストに呼び出し元のUIDを格納するキー。
const contextKeyUID = "uid"

// errNoToken はAuthorizationヘッダーが無いことを表す。
var errNoToken = errors.New("Authorizationヘッダーが必要です")

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UID は認証済みユーザーの一意識別子。管理者許可リストの検索キーになる。
	UID string `json:"uid"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// GenerateJWT はユーザー情報からttl有効なJWTトークンを生成する。
func GenerateJWT(secret, uid, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UID:   uid,
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// parseBearer はAuthorizationヘッダーのBearerトークンを検証してクレームを返す。
func parseBearer(secret, header string) (*JWTClaims, error) {
	if header == "" {
		return nil, errNoToken
	}
	tokenString, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return nil, errors.New("Bearer トークン形式が不正です")
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, errors.New("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを必須とするGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに呼び出し元のUIDを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseBearer(secret, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  "unauthenticated",
			})
			return
		}
		c.Set(contextKeyUID, claims.UID)
		c.Next()
	}
}

// Identify はJWTトークンを任意とするGinミドルウェアを返す。
// トークンが無い場合は匿名のまま後続に渡し、認証要否の判断はハンドラに委ねる。
// トークンがあるが無効な場合は401を返す。
func Identify(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseBearer(secret, c.GetHeader("Authorization"))
		if errors.Is(err, errNoToken) {
			c.Next()
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  "unauthenticated",
			})
			return
		}
		c.Set(contextKeyUID, claims.UID)
		c.Next()
	}
}

// GetUID はGinコンテキストから呼び出し元のUIDを取得する。未認証の場合は空文字を返す。
func GetUID(c *gin.Context) string {
	v, _ := c.Get(contextKeyUID)
	if uid, ok := v.(string); ok {
		return uid
	}
	return ""
}
