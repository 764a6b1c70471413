package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/fogpush/pkg/event"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPollSpec はラウンド状態ポーリングの既定スケジュール。
const DefaultPollSpec = "@every 5s"

// pollTimeout は1回のポーリングに許す最大時間。
const pollTimeout = 30 * time.Second

// StatusSource はラウンド状態の参照と更新を行うストア。
type StatusSource interface {
	ListRoundStatuses(ctx context.Context) (map[string]string, error)
	SetRoundStatus(ctx context.Context, week, status string) (string, error)
}

// ChangeHandler は検出した状態変更を処理する。
type ChangeHandler interface {
	HandleStatusChange(ctx context.Context, c event.StatusChange) error
}

// Watcher はラウンド状態を定期的に取得し、前回との差分を状態変更として通知する。
// 初回のポーリングは基準値の記録のみを行い、通知しない。
// SetRoundStatusを経由した書き込みは即座に通知され、ポーリングでは再通知しない。
type Watcher struct {
	source  StatusSource
	handler ChangeHandler
	log     zerolog.Logger
	cron    *cron.Cron

	// mu はスナップショットの取得と基準値の更新、直接の書き込みを直列化する。
	mu     sync.Mutex
	last   map[string]string
	primed bool
}

// NewWatcher は新しいWatcherを生成する。specはcron形式または "@every 5s" のような記述子。
func NewWatcher(source StatusSource, handler ChangeHandler, spec string, log zerolog.Logger) (*Watcher, error) {
	if spec == "" {
		spec = DefaultPollSpec
	}
	w := &Watcher{
		source:  source,
		handler: handler,
		log:     log.With().Str("component", "watcher").Logger(),
	}
	cl := cronLogger{log: w.log}
	w.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := w.cron.AddFunc(spec, w.run); err != nil {
		return nil, fmt.Errorf("ポーリングスケジュール %q が不正です: %w", spec, err)
	}
	return w, nil
}

// Start はポーリングを開始する。
func (w *Watcher) Start() {
	w.log.Info().Msg("ラウンド状態の監視を開始します")
	w.cron.Start()
}

// Stop はポーリングを停止し、実行中のポーリングの完了を待つ。
func (w *Watcher) Stop(ctx context.Context) {
	done := w.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (w *Watcher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	if err := w.Poll(ctx); err != nil {
		w.log.Error().Err(err).Msg("ラウンド状態のポーリングに失敗")
	}
}

// Poll はラウンド状態を1回取得し、変化のあった週ごとにハンドラを呼び出す。
// ハンドラの失敗はログに記録し、他の週の処理を継続する。
func (w *Watcher) Poll(ctx context.Context) error {
	w.mu.Lock()
	current, err := w.source.ListRoundStatuses(ctx)
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("ラウンド状態の取得に失敗: %w", err)
	}
	previous := w.last
	primed := w.primed
	w.last = current
	w.primed = true
	w.mu.Unlock()

	if !primed {
		w.log.Debug().Int("weeks", len(current)).Msg("ラウンド状態の基準値を記録しました")
		return nil
	}

	for _, c := range diff(previous, current) {
		if err := w.handler.HandleStatusChange(ctx, c); err != nil {
			w.log.Error().Err(err).Str("week", c.Week).Msg("状態変更の処理に失敗")
		}
	}
	return nil
}

// SetRoundStatus はラウンド状態を書き込み、その変更をハンドラへ直接渡す。
// 書き込み後の値は基準値にも反映するため、同じ変更をポーリングが再度通知することはない。
// ポーリング間隔内に複数回更新されても、更新ごとに1回ずつ判定される。
// ハンドラの失敗はログに記録し、書き込み自体は成功として扱う。
func (w *Watcher) SetRoundStatus(ctx context.Context, week, status string) (event.StatusChange, error) {
	w.mu.Lock()
	before, err := w.source.SetRoundStatus(ctx, week, status)
	if err != nil {
		w.mu.Unlock()
		return event.StatusChange{}, fmt.Errorf("ラウンド状態の更新に失敗: %w", err)
	}
	if w.last != nil {
		w.last[week] = status
	}
	w.mu.Unlock()

	c := event.StatusChange{Week: week, Before: event.Status(before), After: event.Status(status)}
	if err := w.handler.HandleStatusChange(ctx, c); err != nil {
		w.log.Error().Err(err).Str("week", week).Msg("状態変更の処理に失敗")
	}
	return c, nil
}

// diff は2つのスナップショットを比較し、値が変化した週を週番号順に返す。
// 片方にしか存在しない週は、存在しない側を空文字として扱う。
func diff(previous, current map[string]string) []event.StatusChange {
	weeks := make(map[string]struct{}, len(current))
	for w := range previous {
		weeks[w] = struct{}{}
	}
	for w := range current {
		weeks[w] = struct{}{}
	}

	var changes []event.StatusChange
	for w := range weeks {
		before, after := previous[w], current[w]
		if before == after {
			continue
		}
		changes = append(changes, event.StatusChange{Week: w, Before: event.Status(before), After: event.Status(after)})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Week < changes[j].Week })
	return changes
}

// cronLogger はcronのログをzerologへ出力する。
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
