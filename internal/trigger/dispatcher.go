package trigger

import (
	"context"
	"fmt"

	"github.com/nao1215/fogpush/internal/fanout"
	"github.com/nao1215/fogpush/pkg/event"
	"github.com/rs/zerolog"
)

// 通知文とエラーメッセージ。
const (
	titleScoringOpen   = "Scoring is Now Open! ⛳"
	titleRoundClosed   = "Round Complete! 🏆"
	sentConfirmation   = "Notification sent"
	msgUnauthenticated = "Must be signed in."
	msgNotAdmin        = "Must be an admin."
	msgMissingFields   = "Missing title or body."
)

// Broadcaster は全エンドポイントへの通知送信を行う。
type Broadcaster interface {
	Broadcast(ctx context.Context, title, body string) (fanout.Result, error)
}

// Directory は管理者許可リストとスケジュールの参照先。
type Directory interface {
	IsAdmin(ctx context.Context, uid string) (bool, error)
	ScheduleCourse(ctx context.Context, week string) (string, error)
}

// SendResult は手動送信の結果。
type SendResult struct {
	// Message は固定の確認メッセージ。
	Message string `json:"message"`
	// SuccessCount は送信成功件数。
	SuccessCount int `json:"successCount"`
	// FailureCount は送信失敗件数。
	FailureCount int `json:"failureCount"`
}

// Dispatcher は状態変更と手動送信をファンアウト処理へ橋渡しする。
type Dispatcher struct {
	broadcaster Broadcaster
	directory   Directory
	log         zerolog.Logger
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(b Broadcaster, d Directory, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		broadcaster: b,
		directory:   d,
		log:         log.With().Str("component", "trigger").Logger(),
	}
}

// HandleStatusChange はラウンド状態の変更に応じて通知を送信する。
// 通知対象外の遷移では何もせずにnilを返す。
func (d *Dispatcher) HandleStatusChange(ctx context.Context, c event.StatusChange) error {
	var title, body string
	switch c.Transition() {
	case event.TransitionOpened:
		title = titleScoringOpen
		body = openedBody(c.Week, d.courseName(ctx, c.Week))
	case event.TransitionClosed:
		title = titleRoundClosed
		body = fmt.Sprintf("Week %s scoring is closed. Check the results and payouts!", c.Week)
	default:
		d.log.Debug().Str("week", c.Week).Str("before", string(c.Before)).Str("after", string(c.After)).Msg("通知対象外の状態遷移")
		return nil
	}

	res, err := d.broadcaster.Broadcast(ctx, title, body)
	if err != nil {
		return fmt.Errorf("週%sの状態変更通知に失敗: %w", c.Week, err)
	}
	d.log.Info().
		Str("week", c.Week).
		Str("after", string(c.After)).
		Int("success", res.SuccessCount).
		Int("failure", res.FailureCount).
		Msg("状態変更通知を送信しました")
	return nil
}

// courseName はスケジュールからコース名を取得する。取得に失敗した場合は空文字を返す。
func (d *Dispatcher) courseName(ctx context.Context, week string) string {
	course, err := d.directory.ScheduleCourse(ctx, week)
	if err != nil {
		d.log.Warn().Err(err).Str("week", week).Msg("コース名の取得に失敗したため省略します")
		return ""
	}
	return course
}

func openedBody(week, course string) string {
	at := ""
	if course != "" {
		at = " at " + course
	}
	return fmt.Sprintf("Live scoring is open for Week %s%s. Enter your scores!", week, at)
}

// SendNotification は管理者による手動送信を行う。
// 認証・権限・入力の検証はすべて送信前に行い、失敗時は副作用を起こさない。
// 返すエラーは常に*Errorで、自動リトライは行わない。
func (d *Dispatcher) SendNotification(ctx context.Context, callerUID, title, body string) (SendResult, error) {
	if callerUID == "" {
		return SendResult{}, newError(CodeUnauthenticated, msgUnauthenticated)
	}

	admin, err := d.directory.IsAdmin(ctx, callerUID)
	if err != nil {
		d.log.Error().Err(err).Str("uid", callerUID).Msg("管理者情報の取得に失敗")
		return SendResult{}, &Error{Code: CodeInternal, Message: err.Error(), Err: err}
	}
	if !admin {
		return SendResult{}, newError(CodePermissionDenied, msgNotAdmin)
	}

	if title == "" || body == "" {
		return SendResult{}, newError(CodeInvalidArgument, msgMissingFields)
	}

	res, err := d.broadcaster.Broadcast(ctx, title, body)
	if err != nil {
		d.log.Error().Err(err).Str("uid", callerUID).Msg("手動通知の送信に失敗")
		return SendResult{}, &Error{Code: CodeInternal, Message: err.Error(), Err: err}
	}

	return SendResult{
		Message:      sentConfirmation,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
	}, nil
}
