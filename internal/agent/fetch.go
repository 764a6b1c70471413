package agent

import (
	"io"
	"net/http"
	"strings"
)

// 応答経路。メトリクスのラベルに使う。
const (
	sourceBypass   = "bypass"
	sourceNetwork  = "network"
	sourceCache    = "cache"
	sourceFallback = "fallback"
	sourceOffline  = "offline"
)

// RoundTrip はリクエストにキャッシュ方針を適用する。
//
// バイパス対象はそのままネットワークへ送る。それ以外はネットワークを優先し、
// 同一オリジンの2xxレスポンスをストアに保存する。ネットワークに失敗した場合は
// 全ストアの一致、ナビゲーションならキャッシュ済みのシェル、最後に503 Offlineの順で応答する。
// バイパス対象以外ではエラーを返さない。
func (a *Agent) RoundTrip(req *http.Request) (*http.Response, error) {
	if a.policy.Decide(req) == Bypass {
		a.metrics.ObserveFetch(sourceBypass)
		return a.network.RoundTrip(req)
	}

	resp, err := a.network.RoundTrip(req)
	if err == nil && a.cacheable(req, resp) {
		// 保存するためにボディを読み切る。途中で切断された場合はネットワーク失敗として扱う
		var cached *CachedResponse
		if cached, err = newCachedResponse(resp); err == nil {
			a.store(req, cached)
		}
	}
	if err == nil {
		a.metrics.ObserveFetch(sourceNetwork)
		return resp, nil
	}

	a.log.Debug().Err(err).Str("url", req.URL.String()).Msg("ネットワークに接続できないためキャッシュを参照します")
	return a.fromCache(req), nil
}

// cacheable はレスポンスを保存すべきかどうかを判定する。
func (a *Agent) cacheable(req *http.Request, resp *http.Response) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	return req.URL.Scheme == a.origin.Scheme && req.URL.Host == a.origin.Host
}

// store はレスポンスの複製を現在のストアに保存する。保存の失敗はレスポンスに影響しない。
func (a *Agent) store(req *http.Request, cached *CachedResponse) {
	ctx := req.Context()
	cache, err := a.storage.Open(ctx, a.cfg.CacheName)
	if err == nil {
		err = cache.Put(ctx, req, cached)
	}
	if err != nil {
		a.log.Warn().Err(err).Str("url", req.URL.String()).Msg("キャッシュへの保存に失敗しました")
	}
}

// fromCache はネットワーク失敗時の応答を返す。
func (a *Agent) fromCache(req *http.Request) *http.Response {
	ctx := req.Context()
	if cached, ok, err := a.storage.MatchAny(ctx, req); err != nil {
		a.log.Warn().Err(err).Msg("キャッシュの検索に失敗しました")
	} else if ok {
		a.metrics.ObserveFetch(sourceCache)
		return cached.Response(req)
	}

	if isNavigation(req) {
		shell, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolve(shellFallbackPath), nil)
		if err == nil {
			if cached, ok, err := a.storage.MatchAny(ctx, shell); err != nil {
				a.log.Warn().Err(err).Msg("シェルの検索に失敗しました")
			} else if ok {
				a.metrics.ObserveFetch(sourceFallback)
				return cached.Response(req)
			}
		}
	}

	a.metrics.ObserveFetch(sourceOffline)
	return offlineResponse(req)
}

// offlineResponse はキャッシュにも無い場合の合成レスポンスを返す。
func offlineResponse(req *http.Request) *http.Response {
	const body = "Offline"
	return &http.Response{
		Status:        "503 Offline",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
