package agent

import (
	"context"
	"fmt"
	"net/http"
)

// Start はInstallとActivateを続けて実行する。
// 待機せずに新しいバージョンを有効化する。Installに失敗した場合は古いストアを残したまま返る。
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Install(ctx); err != nil {
		return err
	}
	return a.Activate(ctx)
}

// Install は現在のストアを開き、シェルのアセットを事前キャッシュする。
// いずれかのアセットの取得に失敗した場合は何も保存せずにエラーを返す。
func (a *Agent) Install(ctx context.Context) error {
	cache, err := a.storage.Open(ctx, a.cfg.CacheName)
	if err != nil {
		return fmt.Errorf("キャッシュストアを開けません: %w", err)
	}

	type fetched struct {
		req  *http.Request
		resp *CachedResponse
	}
	assets := make([]fetched, 0, len(a.cfg.ShellAssets))
	for _, p := range a.cfg.ShellAssets {
		req, resp, err := a.fetchAsset(ctx, p)
		if err != nil {
			return fmt.Errorf("アセット %s の事前キャッシュに失敗: %w", p, err)
		}
		assets = append(assets, fetched{req: req, resp: resp})
	}
	for _, f := range assets {
		if err := cache.Put(ctx, f.req, f.resp); err != nil {
			return fmt.Errorf("アセット %s の保存に失敗: %w", f.req.URL.Path, err)
		}
	}

	a.setState(StateInstalled)
	a.log.Info().Int("assets", len(assets)).Msg("シェルを事前キャッシュしました")
	return nil
}

// fetchAsset はオリジン上のパスをネットワークから取得する。2xx以外はエラーとする。
func (a *Agent) fetchAsset(ctx context.Context, path string) (*http.Request, *CachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolve(path), nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := a.network.RoundTrip(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("ステータス %d", resp.StatusCode)
	}
	cached, err := newCachedResponse(resp)
	if err != nil {
		return nil, nil, err
	}
	return req, cached, nil
}

// Activate は現在のストア以外を全て削除し、開いている全クライアントを制御下に置く。
func (a *Agent) Activate(ctx context.Context) error {
	names, err := a.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("ストア一覧の取得に失敗: %w", err)
	}
	for _, n := range names {
		if n == a.cfg.CacheName {
			continue
		}
		if _, err := a.storage.Delete(ctx, n); err != nil {
			return fmt.Errorf("古いストア %s の削除に失敗: %w", n, err)
		}
		a.log.Info().Str("store", n).Msg("古いキャッシュストアを削除しました")
	}

	if err := a.clients.Claim(ctx); err != nil {
		return fmt.Errorf("クライアントの取得に失敗: %w", err)
	}
	a.setState(StateActivated)
	return nil
}

// resolve はオリジン相対のパスを絶対URLにする。
func (a *Agent) resolve(path string) string {
	ref, err := a.origin.Parse(path)
	if err != nil {
		return a.origin.String() + path
	}
	return ref.String()
}
