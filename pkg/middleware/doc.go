// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWTによる呼び出し元の識別、zerologによるリクエストログ、パニックリカバリ、
// CORS設定、送信APIのレート制限を含む。
package middleware
