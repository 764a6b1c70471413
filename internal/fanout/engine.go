package fanout

import (
	"context"
	"fmt"

	"github.com/nao1215/fogpush/internal/registry"
	"github.com/nao1215/fogpush/pkg/metrics"
	"github.com/nao1215/fogpush/pkg/pushgateway"
	"github.com/rs/zerolog"
)

// Registry はファンアウト処理が使用するレジストリ操作。
type Registry interface {
	ListEndpoints(ctx context.Context) ([]registry.Endpoint, error)
	DeleteEndpoint(ctx context.Context, key string) error
}

// Transport はマルチキャスト送信を行うプッシュ配信の経路。
type Transport interface {
	SendMulticast(ctx context.Context, msg pushgateway.Message, tokens []string) (*pushgateway.BatchResponse, error)
}

// Result はブロードキャストの集計結果。
type Result struct {
	// SuccessCount はゲートウェイが報告した成功件数。
	SuccessCount int `json:"successCount"`
	// FailureCount はゲートウェイが報告した失敗件数。
	FailureCount int `json:"failureCount"`
}

// Engine はファンアウト処理を行う。呼び出し間で状態を共有しない。
type Engine struct {
	registry  Registry
	transport Transport
	log       zerolog.Logger
	metrics   *metrics.Fanout
}

// New は新しいEngineを生成する。mはnilでもよい。
func New(reg Registry, transport Transport, log zerolog.Logger, m *metrics.Fanout) *Engine {
	return &Engine{
		registry:  reg,
		transport: transport,
		log:       log.With().Str("component", "fanout").Logger(),
		metrics:   m,
	}
}

// Broadcast は全エンドポイントへ通知を1回のマルチキャストで送信する。
// エンドポイントが0件の場合は送信せずに{0,0}を返す。
// 返す件数はゲートウェイの報告値そのもので、無効トークンの削除結果には影響されない。
func (e *Engine) Broadcast(ctx context.Context, title, body string) (Result, error) {
	endpoints, err := e.registry.ListEndpoints(ctx)
	if err != nil {
		e.metrics.ObserveBroadcast("error", 0, 0)
		return Result{}, fmt.Errorf("エンドポイントの読み込みに失敗: %w", err)
	}

	tokens := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Token != "" {
			tokens = append(tokens, ep.Token)
		}
	}
	if len(tokens) == 0 {
		e.log.Info().Msg("送信先トークンがありません")
		e.metrics.ObserveBroadcast("empty", 0, 0)
		return Result{}, nil
	}

	batch, err := e.transport.SendMulticast(ctx, pushgateway.Message{Title: title, Body: body}, tokens)
	if err != nil {
		e.metrics.ObserveBroadcast("error", 0, 0)
		return Result{}, fmt.Errorf("プッシュ送信に失敗: %w", err)
	}
	e.log.Info().
		Int("success", batch.SuccessCount).
		Int("failure", batch.FailureCount).
		Msg("マルチキャスト送信が完了しました")
	e.metrics.ObserveBroadcast("sent", batch.SuccessCount, batch.FailureCount)

	invalid := e.classify(tokens, batch.Responses)
	if len(invalid) > 0 {
		e.prune(ctx, endpoints, invalid)
	}

	return Result{SuccessCount: batch.SuccessCount, FailureCount: batch.FailureCount}, nil
}

// classify は送信結果を調べ、恒久的に無効なトークンの集合を返す。
// 一時的な失敗はログに記録するのみでトークンは残す。
func (e *Engine) classify(tokens []string, responses []pushgateway.Response) map[string]struct{} {
	invalid := make(map[string]struct{})
	for i, resp := range responses {
		if resp.Success || i >= len(tokens) {
			continue
		}
		if pushgateway.IsTerminal(resp.ErrorCode) {
			invalid[tokens[i]] = struct{}{}
			continue
		}
		e.log.Warn().
			Int("index", i).
			Str("code", resp.ErrorCode).
			Str("error", resp.ErrorMessage).
			Msg("一時的な送信失敗のためトークンを保持します")
	}
	return invalid
}

// prune は無効トークンを持つ全キーをレジストリから削除する。
// 同じトークンが複数キーに登録されている場合はすべて削除する。
// 個々の削除失敗はログに記録し、残りの削除を継続する。
func (e *Engine) prune(ctx context.Context, endpoints []registry.Endpoint, invalid map[string]struct{}) {
	removed := 0
	for _, ep := range endpoints {
		if _, ok := invalid[ep.Token]; !ok {
			continue
		}
		if err := e.registry.DeleteEndpoint(ctx, ep.Key); err != nil {
			e.log.Error().Err(err).Str("key", ep.Key).Msg("無効トークンの削除に失敗")
			continue
		}
		removed++
	}
	e.metrics.ObservePruned(removed)
	e.log.Info().Int("tokens", len(invalid)).Int("removed", removed).Msg("無効トークンを削除しました")
}
