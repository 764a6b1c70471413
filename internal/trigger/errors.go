package trigger

import (
	"errors"
	"net/http"
)

// Code は呼び出し元に返すエラーの分類。
type Code string

const (
	// CodeUnauthenticated は呼び出し元が認証されていないことを表す。
	CodeUnauthenticated Code = "unauthenticated"
	// CodePermissionDenied は呼び出し元が管理者ではないことを表す。
	CodePermissionDenied Code = "permission-denied"
	// CodeInvalidArgument は入力が不正であることを表す。
	CodeInvalidArgument Code = "invalid-argument"
	// CodeInternal は送信処理中の予期しない失敗を表す。
	CodeInternal Code = "internal"
)

// HTTPStatus はエラー分類に対応するHTTPステータスコードを返す。
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error は分類付きのエラー。Messageはそのまま呼び出し元に返される。
type Error struct {
	// Code はエラーの分類。
	Code Code
	// Message は人間向けのメッセージ。
	Message string
	// Err は原因となったエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf はエラーの分類を返す。分類のないエラーはCodeInternalとして扱う。
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}
