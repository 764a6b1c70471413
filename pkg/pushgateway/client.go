package pushgateway

import (
	"context"
	"fmt"

	"github.com/nao1215/fogpush/pkg/httpclient"
)

// ゲートウェイが返すトークン単位のエラーコード。
const (
	// ErrorCodeInvalidToken はトークンの形式が不正であることを表す。
	ErrorCodeInvalidToken = "messaging/invalid-registration-token"
	// ErrorCodeNotRegistered はトークンが登録解除済みであることを表す。
	ErrorCodeNotRegistered = "messaging/registration-token-not-registered"
	// ErrorCodeInvalidArgument はペイロードが不正であることを表す。
	ErrorCodeInvalidArgument = "messaging/invalid-argument"
	// ErrorCodeQuotaExceeded は送信クォータを超過したことを表す。
	ErrorCodeQuotaExceeded = "messaging/message-rate-exceeded"
	// ErrorCodeUnavailable はゲートウェイ側の一時的な障害を表す。
	ErrorCodeUnavailable = "messaging/server-unavailable"
)

// sendMulticastPath はマルチキャスト送信APIのパス。
const sendMulticastPath = "/v1/messages:sendMulticast"

// IsTerminal はエラーコードが恒久的に無効なトークンを示すかを返す。
// trueの場合、そのトークンは二度と有効にならないためレジストリから削除してよい。
func IsTerminal(code string) bool {
	return code == ErrorCodeInvalidToken || code == ErrorCodeNotRegistered
}

// Message は送信する通知の内容。
type Message struct {
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
}

// Response はトークン1件分の送信結果。
type Response struct {
	// Success は送信に成功したかどうか。
	Success bool
	// MessageID は成功時にゲートウェイが割り当てたID。
	MessageID string
	// ErrorCode は失敗時のエラーコード。
	ErrorCode string
	// ErrorMessage は失敗時のエラーメッセージ。
	ErrorMessage string
}

// BatchResponse はマルチキャスト送信全体の結果。
// Responsesは送信したトークンと同じ順序で並ぶ。
type BatchResponse struct {
	// SuccessCount は成功件数。
	SuccessCount int
	// FailureCount は失敗件数。
	FailureCount int
	// Responses はトークンごとの結果。
	Responses []Response
}

// Client はプッシュゲートウェイのクライアント。
type Client struct {
	http *httpclient.Client
}

// New は新しいゲートウェイクライアントを生成する。
// serverKeyが空でない場合はAuthorizationヘッダーに付与する。
func New(baseURL, serverKey string, opts ...httpclient.Option) *Client {
	if serverKey != "" {
		opts = append(opts, httpclient.WithHeader("Authorization", "key="+serverKey))
	}
	return &Client{http: httpclient.New(baseURL, opts...)}
}

// multicastRequest はマルチキャスト送信リクエストのJSON構造。
type multicastRequest struct {
	// Notification は全トークン共通の通知内容。
	Notification Message `json:"notification"`
	// Tokens は送信先トークン。
	Tokens []string `json:"tokens"`
}

// multicastResponse はマルチキャスト送信レスポンスのJSON構造。
type multicastResponse struct {
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
	Responses    []struct {
		Success   bool   `json:"success"`
		MessageID string `json:"messageId,omitempty"`
		Error     *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"responses"`
}

// SendMulticast は1つのメッセージを全トークンへ1回の呼び出しで送信する。
// 呼び出し自体が失敗した場合のみエラーを返し、トークン単位の失敗はBatchResponseに含める。
func (c *Client) SendMulticast(ctx context.Context, msg Message, tokens []string) (*BatchResponse, error) {
	var resp multicastResponse
	if err := c.http.PostJSON(ctx, sendMulticastPath, multicastRequest{Notification: msg, Tokens: tokens}, &resp); err != nil {
		return nil, fmt.Errorf("マルチキャスト送信に失敗: %w", err)
	}
	if len(resp.Responses) != len(tokens) {
		return nil, fmt.Errorf("送信結果の件数が一致しません: tokens=%d, responses=%d", len(tokens), len(resp.Responses))
	}

	batch := &BatchResponse{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
		Responses:    make([]Response, 0, len(resp.Responses)),
	}
	for _, r := range resp.Responses {
		out := Response{Success: r.Success, MessageID: r.MessageID}
		if r.Error != nil {
			out.ErrorCode = r.Error.Code
			out.ErrorMessage = r.Error.Message
		}
		batch.Responses = append(batch.Responses, out)
	}
	return batch, nil
}
