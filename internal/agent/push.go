package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Notification は表示する通知。
type Notification struct {
	// Tag は通知ごとに一意なタグ。同じタグの通知は置き換えられるため毎回変える。
	Tag string `json:"tag"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
	// Icon は通知アイコンのパス。
	Icon string `json:"icon"`
	// Badge は通知バッジのパス。
	Badge string `json:"badge"`
	// Data はクリック時に参照するためのペイロード。
	Data json.RawMessage `json:"data,omitempty"`
	// ShownAt は表示した日時。
	ShownAt time.Time `json:"shown_at"`
}

// pushFields はプッシュペイロードのタイトル・本文・データ。
type pushFields struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  json.RawMessage `json:"data"`
}

// pushPayload はプッシュペイロードのJSON構造。
// notificationキーがあればその中のタイトルと本文を使い、無ければトップレベルの値を使う。
type pushPayload struct {
	pushFields
	Notification *pushFields `json:"notification"`
}

// parsePush はプッシュペイロードからタイトル・本文・データを取り出す。
// JSONオブジェクトとして解析できない場合は前後の空白を除いたペイロード全体を本文として扱う。
func parsePush(payload []byte) (title, body string, data json.RawMessage) {
	trimmed := bytes.TrimSpace(payload)
	var p pushPayload
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &p) != nil {
		return DefaultTitle, or(string(trimmed), DefaultBody), nil
	}

	data = p.Data
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = nil
	}
	if p.Notification != nil {
		return or(p.Notification.Title, DefaultTitle), or(p.Notification.Body, DefaultEnvelopeBody), data
	}
	return or(p.Title, DefaultTitle), or(p.Body, DefaultBody), data
}

// or は空でなければsを、空ならfallbackを返す。
func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// HandlePush は受信したプッシュを解析して通知を表示する。
// ペイロードが不正でも既定のタイトルと本文で表示する。
func (a *Agent) HandlePush(ctx context.Context, payload []byte) (Notification, error) {
	title, body, data := parsePush(payload)
	n := Notification{
		Tag:     tagPrefix + a.ids(),
		Title:   title,
		Body:    body,
		Icon:    a.cfg.Icon,
		Badge:   a.cfg.Badge,
		Data:    data,
		ShownAt: time.Now(),
	}
	if err := a.notifier.Show(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("通知の表示に失敗: %w", err)
	}
	a.metrics.ObserveNotification()
	a.log.Info().Str("tag", n.Tag).Str("title", n.Title).Msg("通知を表示しました")
	return n, nil
}
