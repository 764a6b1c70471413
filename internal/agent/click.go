package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WindowClient は開いているウィンドウ。
type WindowClient struct {
	// ID はウィンドウの識別子。
	ID string `json:"id"`
	// URL はウィンドウで表示しているURL。
	URL string `json:"url"`
	// Focused はウィンドウがフォーカスされているかどうか。
	Focused bool `json:"focused"`
	// Controlled はウィンドウがエージェントの制御下にあるかどうか。
	Controlled bool `json:"controlled"`
}

// Clients はウィンドウクライアントの一覧と操作を提供する。
type Clients interface {
	// MatchAll はウィンドウを登録順に返す。includeUncontrolledがfalseなら制御下のものだけを返す。
	MatchAll(ctx context.Context, includeUncontrolled bool) ([]WindowClient, error)
	// Focus はウィンドウにフォーカスする。
	Focus(ctx context.Context, id string) (WindowClient, error)
	// OpenWindow は新しいウィンドウを開く。相対URLはスコープを基準に解決する。
	OpenWindow(ctx context.Context, rawURL string) (WindowClient, error)
	// Claim は全ウィンドウを制御下に置く。
	Claim(ctx context.Context) error
}

// ClickAction は通知クリック時に行った操作。
type ClickAction string

const (
	// ClickFocused は既存ウィンドウにフォーカスしたことを表す。
	ClickFocused ClickAction = "focus"
	// ClickOpened は新しいウィンドウを開いたことを表す。
	ClickOpened ClickAction = "open"
)

// ClickResult は通知クリックの処理結果。
type ClickResult struct {
	// Action は行った操作。
	Action ClickAction `json:"action"`
	// Client はフォーカスまたは新規に開いたウィンドウ。
	Client WindowClient `json:"client"`
	// Data は通知に添付されていたペイロード。
	Data json.RawMessage `json:"data,omitempty"`
}

// HandleClick は通知のクリックを処理する。
// 通知を閉じ、スコープ内のウィンドウがあれば最初の1つにフォーカスし、無ければルートを新しく開く。
func (a *Agent) HandleClick(ctx context.Context, tag string) (ClickResult, error) {
	n, err := a.notifier.Get(ctx, tag)
	if err != nil {
		return ClickResult{}, err
	}
	if err := a.notifier.Close(ctx, tag); err != nil {
		return ClickResult{}, err
	}

	windows, err := a.clients.MatchAll(ctx, true)
	if err != nil {
		return ClickResult{}, fmt.Errorf("ウィンドウ一覧の取得に失敗: %w", err)
	}
	for _, w := range windows {
		if strings.Contains(w.URL, a.cfg.Scope) {
			focused, err := a.clients.Focus(ctx, w.ID)
			if err != nil {
				return ClickResult{}, fmt.Errorf("ウィンドウへのフォーカスに失敗: %w", err)
			}
			return ClickResult{Action: ClickFocused, Client: focused, Data: n.Data}, nil
		}
	}

	opened, err := a.clients.OpenWindow(ctx, "/")
	if err != nil {
		return ClickResult{}, fmt.Errorf("ウィンドウを開けません: %w", err)
	}
	return ClickResult{Action: ClickOpened, Client: opened, Data: n.Data}, nil
}

// ErrClientNotFound は指定したウィンドウが存在しないことを表す。
var ErrClientNotFound = errors.New("ウィンドウが見つかりません")

// ClientRegistry はウィンドウをメモリ上で管理するClients。
// ウィンドウはページ自身がRegisterで登録し、閉じるときにUnregisterで削除する。
// OpenWindowで開いたウィンドウは、そのページが登録するまで一覧に含めない。
type ClientRegistry struct {
	base   *url.URL
	opener func(string) error
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows []WindowClient
	seen    map[string]time.Time
}

// ClientOption はClientRegistryの設定を変更する。
type ClientOption func(*ClientRegistry)

// WithClientTTL は最後の登録またはTouchからttlを過ぎたウィンドウを閉じたものとして扱う。
// 0以下なら期限切れにしない。
func WithClientTTL(ttl time.Duration) ClientOption {
	return func(r *ClientRegistry) {
		r.ttl = ttl
	}
}

// NewClientRegistry はスコープを基準URLとするClientRegistryを生成する。openerはnilでもよい。
func NewClientRegistry(scope string, opener func(string) error, opts ...ClientOption) *ClientRegistry {
	base, err := url.Parse(scope)
	if err != nil {
		base = &url.URL{}
	}
	r := &ClientRegistry{base: base, opener: opener, now: time.Now, seen: make(map[string]time.Time)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register はページが開かれたことを登録する。
func (r *ClientRegistry) Register(_ context.Context, rawURL string, controlled bool) WindowClient {
	w := WindowClient{ID: uuid.NewString(), URL: r.resolve(rawURL), Controlled: controlled}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
	r.seen[w.ID] = r.now()
	return w
}

// Unregister はページが閉じられたことを登録する。
func (r *ClientRegistry) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.windows {
		if r.windows[i].ID == id {
			r.windows = append(r.windows[:i], r.windows[i+1:]...)
			delete(r.seen, id)
			return nil
		}
	}
	return ErrClientNotFound
}

// Touch はウィンドウがまだ開いていることを記録する。
func (r *ClientRegistry) Touch(_ context.Context, id string) (WindowClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	for _, w := range r.windows {
		if w.ID == id {
			r.seen[id] = r.now()
			return w, nil
		}
	}
	return WindowClient{}, ErrClientNotFound
}

// MatchAll はウィンドウを登録順に返す。
func (r *ClientRegistry) MatchAll(_ context.Context, includeUncontrolled bool) ([]WindowClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	out := make([]WindowClient, 0, len(r.windows))
	for _, w := range r.windows {
		if includeUncontrolled || w.Controlled {
			out = append(out, w)
		}
	}
	return out, nil
}

// Focus はウィンドウにフォーカスし、他のウィンドウのフォーカスを外す。
func (r *ClientRegistry) Focus(_ context.Context, id string) (WindowClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	idx := -1
	for i := range r.windows {
		r.windows[i].Focused = r.windows[i].ID == id
		if r.windows[i].ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return WindowClient{}, ErrClientNotFound
	}
	return r.windows[idx], nil
}

// OpenWindow は新しいウィンドウを開く。
// 開いたページは自身で登録するため、ここでは一覧に加えない。
func (r *ClientRegistry) OpenWindow(_ context.Context, rawURL string) (WindowClient, error) {
	target := r.resolve(rawURL)
	if r.opener != nil {
		if err := r.opener(target); err != nil {
			return WindowClient{}, err
		}
	}
	return WindowClient{ID: uuid.NewString(), URL: target, Focused: true, Controlled: true}, nil
}

// Claim は全ウィンドウを制御下に置く。
func (r *ClientRegistry) Claim(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.windows {
		r.windows[i].Controlled = true
	}
	return nil
}

// expireLocked は期限切れのウィンドウを削除する。r.muを保持して呼び出す。
func (r *ClientRegistry) expireLocked() {
	if r.ttl <= 0 {
		return
	}
	deadline := r.now().Add(-r.ttl)
	live := r.windows[:0]
	for _, w := range r.windows {
		if r.seen[w.ID].Before(deadline) {
			delete(r.seen, w.ID)
			continue
		}
		live = append(live, w)
	}
	r.windows = live
}

func (r *ClientRegistry) resolve(rawURL string) string {
	ref, err := r.base.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return ref.String()
}
