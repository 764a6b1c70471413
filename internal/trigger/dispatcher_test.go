package trigger

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/fogpush/internal/fanout"
	"github.com/nao1215/fogpush/pkg/event"
	"github.com/rs/zerolog"
)

// call はBroadcastの呼び出し内容を記録する。
type call struct {
	title string
	body  string
}

// fakeBroadcaster はテスト用のBroadcaster。
type fakeBroadcaster struct {
	calls  []call
	result fanout.Result
	err    error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, title, body string) (fanout.Result, error) {
	f.calls = append(f.calls, call{title: title, body: body})
	return f.result, f.err
}

// fakeDirectory はテスト用のDirectory。
type fakeDirectory struct {
	admins    map[string]bool
	adminErr  error
	courses   map[string]string
	courseErr error
}

func (f *fakeDirectory) IsAdmin(_ context.Context, uid string) (bool, error) {
	if f.adminErr != nil {
		return false, f.adminErr
	}
	return f.admins[uid], nil
}

func (f *fakeDirectory) ScheduleCourse(_ context.Context, week string) (string, error) {
	if f.courseErr != nil {
		return "", f.courseErr
	}
	return f.courses[week], nil
}

// TestHandleStatusChange は状態遷移ごとの通知内容を検証する。
func TestHandleStatusChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		change    event.StatusChange
		courses   map[string]string
		courseErr error
		want      []call
	}{
		{
			name:    "closedからopenでコース名付きのオープン通知を送る",
			change:  event.StatusChange{Week: "3", Before: event.StatusClosed, After: event.StatusOpen},
			courses: map[string]string{"3": "Pebble Creek"},
			want: []call{{
				title: "Scoring is Now Open! ⛳",
				body:  "Live scoring is open for Week 3 at Pebble Creek. Enter your scores!",
			}},
		},
		{
			name:   "コース名が未登録ならコース名なしで送る",
			change: event.StatusChange{Week: "4", Before: "", After: event.StatusOpen},
			want: []call{{
				title: "Scoring is Now Open! ⛳",
				body:  "Live scoring is open for Week 4. Enter your scores!",
			}},
		},
		{
			name:      "コース名の取得失敗は無視して送る",
			change:    event.StatusChange{Week: "5", Before: event.StatusClosed, After: event.StatusOpen},
			courseErr: errors.New("timeout"),
			want: []call{{
				title: "Scoring is Now Open! ⛳",
				body:  "Live scoring is open for Week 5. Enter your scores!",
			}},
		},
		{
			name:   "openからclosedでクローズ通知を送る",
			change: event.StatusChange{Week: "6", Before: event.StatusOpen, After: event.StatusClosed},
			want: []call{{
				title: "Round Complete! 🏆",
				body:  "Week 6 scoring is closed. Check the results and payouts!",
			}},
		},
		{
			name:   "openからopenは送らない",
			change: event.StatusChange{Week: "7", Before: event.StatusOpen, After: event.StatusOpen},
		},
		{
			name:   "未設定からclosedは送らない",
			change: event.StatusChange{Week: "8", Before: "", After: event.StatusClosed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := &fakeBroadcaster{}
			d := NewDispatcher(b, &fakeDirectory{courses: tt.courses, courseErr: tt.courseErr}, zerolog.Nop())

			if err := d.HandleStatusChange(context.Background(), tt.change); err != nil {
				t.Fatalf("HandleStatusChange() error = %v", err)
			}
			if len(b.calls) != len(tt.want) {
				t.Fatalf("送信回数 = %d, want %d", len(b.calls), len(tt.want))
			}
			for i := range tt.want {
				if b.calls[i] != tt.want[i] {
					t.Errorf("calls[%d] = %+v, want %+v", i, b.calls[i], tt.want[i])
				}
			}
		})
	}
}

// TestHandleStatusChange_BroadcastError は送信失敗がエラーとして返ることを検証する。
func TestHandleStatusChange_BroadcastError(t *testing.T) {
	t.Parallel()

	cause := errors.New("gateway down")
	d := NewDispatcher(&fakeBroadcaster{err: cause}, &fakeDirectory{}, zerolog.Nop())

	err := d.HandleStatusChange(context.Background(), event.StatusChange{Week: "1", Before: event.StatusOpen, After: event.StatusClosed})
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want %v", err, cause)
	}
}

// TestSendNotification は手動送信の認可・検証・送信を検証する。
func TestSendNotification(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{admins: map[string]bool{"admin-1": true, "user-1": false}}

	tests := []struct {
		name      string
		uid       string
		title     string
		body      string
		wantCode  Code
		wantCalls int
	}{
		{name: "未認証はUnauthenticated", uid: "", title: "T", body: "B", wantCode: CodeUnauthenticated},
		{name: "管理者でない場合はPermissionDenied", uid: "user-1", title: "T", body: "B", wantCode: CodePermissionDenied},
		{name: "許可リストにない場合はPermissionDenied", uid: "stranger", title: "T", body: "B", wantCode: CodePermissionDenied},
		{name: "titleが空ならInvalidArgument", uid: "admin-1", title: "", body: "B", wantCode: CodeInvalidArgument},
		{name: "bodyが空ならInvalidArgument", uid: "admin-1", title: "T", body: "", wantCode: CodeInvalidArgument},
		{name: "管理者は送信できる", uid: "admin-1", title: "T", body: "B", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := &fakeBroadcaster{result: fanout.Result{SuccessCount: 4, FailureCount: 1}}
			d := NewDispatcher(b, dir, zerolog.Nop())

			res, err := d.SendNotification(context.Background(), tt.uid, tt.title, tt.body)
			if len(b.calls) != tt.wantCalls {
				t.Errorf("送信回数 = %d, want %d", len(b.calls), tt.wantCalls)
			}
			if tt.wantCode != "" {
				if CodeOf(err) != tt.wantCode {
					t.Fatalf("code = %v, want %v (err=%v)", CodeOf(err), tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SendNotification() error = %v", err)
			}
			want := SendResult{Message: "Notification sent", SuccessCount: 4, FailureCount: 1}
			if res != want {
				t.Errorf("result = %+v, want %+v", res, want)
			}
		})
	}
}

// TestSendNotification_Internal は送信失敗と管理者照会失敗がInternalになることを検証する。
func TestSendNotification_Internal(t *testing.T) {
	t.Parallel()

	t.Run("送信失敗は原因のメッセージを持つInternal", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("gateway down")
		b := &fakeBroadcaster{err: cause}
		d := NewDispatcher(b, &fakeDirectory{admins: map[string]bool{"admin-1": true}}, zerolog.Nop())

		_, err := d.SendNotification(context.Background(), "admin-1", "T", "B")
		var te *Error
		if !errors.As(err, &te) {
			t.Fatalf("*Errorではない: %v", err)
		}
		if te.Code != CodeInternal || te.Message != "gateway down" {
			t.Errorf("error = %+v", te)
		}
		if !errors.Is(err, cause) {
			t.Error("原因のエラーを保持していない")
		}
		if len(b.calls) != 1 {
			t.Errorf("自動リトライしてはならない: 送信回数 = %d", len(b.calls))
		}
	})

	t.Run("管理者照会の失敗はInternalで送信しない", func(t *testing.T) {
		t.Parallel()

		b := &fakeBroadcaster{}
		d := NewDispatcher(b, &fakeDirectory{adminErr: errors.New("db locked")}, zerolog.Nop())

		_, err := d.SendNotification(context.Background(), "admin-1", "T", "B")
		if CodeOf(err) != CodeInternal {
			t.Errorf("code = %v, want internal", CodeOf(err))
		}
		if len(b.calls) != 0 {
			t.Errorf("送信回数 = %d, want 0", len(b.calls))
		}
	})
}

// TestCodeHTTPStatus はエラー分類とHTTPステータスの対応を検証する。
func TestCodeHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := map[Code]int{
		CodeUnauthenticated:  401,
		CodePermissionDenied: 403,
		CodeInvalidArgument:  400,
		CodeInternal:         500,
	}
	for code, want := range tests {
		if got := code.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", code, got, want)
		}
	}
}
