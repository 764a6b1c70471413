package agent

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// 既定値。
const (
	// DefaultCacheName は現在のキャッシュストア名の既定値。
	DefaultCacheName = "fog-golf-v10"
	// DefaultIcon は通知アイコンとバッジの既定パス。
	DefaultIcon = "/icon-192.png"
	// DefaultTitle はタイトルが無いプッシュに使うタイトル。
	DefaultTitle = "FOG Golf League"
	// DefaultEnvelopeBody はnotification形式のプッシュで本文が無い場合の本文。
	DefaultEnvelopeBody = "New notification"
	// DefaultBody はフラット形式またはテキストのプッシュで本文が無い場合の本文。
	DefaultBody = "You have a new notification"
	// tagPrefix は通知タグの接頭辞。
	tagPrefix = "fog-notification-"
	// shellFallbackPath はナビゲーションのオフライン時に返すキャッシュ済みHTMLのパス。
	shellFallbackPath = "/index.html"
)

// DefaultShellAssets はインストール時に事前キャッシュするパス。
var DefaultShellAssets = []string{"/", "/index.html"}

// DefaultBypassHosts はキャッシュを経由させないホスト名の部分文字列。
// データベース、API、SDK配信、関数呼び出しのホストを含む。
var DefaultBypassHosts = []string{
	"firebaseio.com",
	"googleapis.com",
	"emailjs.com",
	"gstatic.com",
	"cloudfunctions.net",
}

// Config はエージェントの設定。ゼロ値の項目には既定値が使われる。
type Config struct {
	// CacheName は現在のキャッシュストア名。デプロイごとに変更する。
	CacheName string
	// Origin はアプリケーションのオリジン（例: "https://fog-golf.example"）。
	Origin string
	// ShellAssets はインストール時に事前キャッシュするパス。
	ShellAssets []string
	// BypassHosts はキャッシュを経由させないホスト名の部分文字列。
	BypassHosts []string
	// Scope はエージェントが管理するURLの範囲。既存ウィンドウの判定に使う。
	Scope string
	// Icon は通知アイコンのパス。
	Icon string
	// Badge は通知バッジのパス。
	Badge string
}

// withDefaults はゼロ値の項目を既定値で埋めた設定を返す。
func (c Config) withDefaults() Config {
	if c.CacheName == "" {
		c.CacheName = DefaultCacheName
	}
	if c.ShellAssets == nil {
		c.ShellAssets = DefaultShellAssets
	}
	if c.BypassHosts == nil {
		c.BypassHosts = DefaultBypassHosts
	}
	if c.Icon == "" {
		c.Icon = DefaultIcon
	}
	if c.Badge == "" {
		c.Badge = c.Icon
	}
	return c
}

// parseOrigin はOriginを検証し、スキームとホストだけのURLを返す。
func parseOrigin(origin string) (*url.URL, error) {
	if origin == "" {
		return nil, errors.New("オリジンが指定されていません")
	}
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("オリジンの解析に失敗: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("オリジンにはスキームとホストが必要です: %q", origin)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}
