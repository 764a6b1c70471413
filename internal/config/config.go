package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv はカレントディレクトリの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}
	return nil
}

// Server は通知サーバーの設定。
type Server struct {
	// Port はリッスンポート。
	Port string
	// DBPath はレジストリのSQLiteファイルパス。
	DBPath string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// PushGatewayURL はプッシュゲートウェイのベースURL。
	PushGatewayURL string
	// WebhookSecret は状態変更Webhookの共有シークレット。空ならWebhookはすべて拒否される。
	WebhookSecret string
	// PushServerKey はプッシュゲートウェイの認証キー。
	PushServerKey string
	// PushTimeout はゲートウェイ呼び出しのタイムアウト。
	PushTimeout time.Duration
	// StatusPollSpec はラウンド状態ポーリングのcronスケジュール。
	StatusPollSpec string
	// SendRatePerMin は手動送信APIの1分あたりの上限。
	SendRatePerMin int
	// AllowedOrigins はCORSで許可するWeb UIのオリジン。
	AllowedOrigins []string
	// LogLevel はログレベル。
	LogLevel string
	// LogConsole はコンソール形式でログを出力するかどうか。
	LogConsole bool
}

// LoadServer は環境変数から通知サーバーの設定を読み込む。
func LoadServer() (*Server, error) {
	pushTimeout, err := time.ParseDuration(getEnvOr("PUSH_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("PUSH_TIMEOUTが不正です: %w", err)
	}
	rpm, err := strconv.Atoi(getEnvOr("SEND_RATE_PER_MIN", "10"))
	if err != nil || rpm <= 0 {
		return nil, fmt.Errorf("SEND_RATE_PER_MINが不正です: %q", os.Getenv("SEND_RATE_PER_MIN"))
	}
	console, _ := strconv.ParseBool(getEnvOr("LOG_CONSOLE", "false"))

	return &Server{
		Port:           getEnvOr("PORT", "8086"),
		DBPath:         getEnvOr("DB_PATH", "/data/registry.db"),
		JWTSecret:      getEnvOr("JWT_SECRET", "dev-secret-key"),
		PushGatewayURL: getEnvOr("PUSH_GATEWAY_URL", "http://localhost:8090"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		PushServerKey:  os.Getenv("PUSH_SERVER_KEY"),
		PushTimeout:    pushTimeout,
		StatusPollSpec: getEnvOr("STATUS_POLL_SPEC", "@every 5s"),
		SendRatePerMin: rpm,
		AllowedOrigins: splitList(getEnvOr("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogLevel:       getEnvOr("LOG_LEVEL", "info"),
		LogConsole:     console,
	}, nil
}

// Agent はクライアントエージェントの設定。YAMLファイルと環境変数から読み込む。
type Agent struct {
	// Port はエージェントのリッスンポート。
	Port string `yaml:"port"`
	// OriginURL はアプリケーションのオリジン（プロキシ先）。
	OriginURL string `yaml:"origin_url"`
	// CacheName は現在のキャッシュストア名。デプロイごとに更新する。
	CacheName string `yaml:"cache_name"`
	// CacheDBPath はキャッシュストアのSQLiteファイルパス。空ならメモリ上に保持する。
	CacheDBPath string `yaml:"cache_db_path"`
	// ShellAssets はインストール時に事前キャッシュするパス。
	ShellAssets []string `yaml:"shell_assets"`
	// BypassHosts はキャッシュを経由させないホスト名の部分文字列。
	BypassHosts []string `yaml:"bypass_hosts"`
	// Scope はエージェントが管理するURLの範囲。
	Scope string `yaml:"scope"`
	// Icon は通知アイコンのパス。
	Icon string `yaml:"icon"`
	// OpenBrowser は通知クリック時にOSのブラウザを開くかどうか。
	OpenBrowser bool `yaml:"open_browser"`
	// ClientTTL はウィンドウが生存通知なしで開いているとみなされる時間。0なら期限切れにしない。
	ClientTTL time.Duration `yaml:"client_ttl"`
	// LogLevel はログレベル。
	LogLevel string `yaml:"log_level"`
}

// LoadAgent はYAMLファイル（pathが空なら省略）を読み込み、環境変数で上書きする。
func LoadAgent(path string) (*Agent, error) {
	cfg := &Agent{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	overrideEnv(&cfg.Port, "AGENT_PORT")
	overrideEnv(&cfg.OriginURL, "ORIGIN_URL")
	overrideEnv(&cfg.CacheName, "CACHE_NAME")
	overrideEnv(&cfg.CacheDBPath, "CACHE_DB_PATH")
	overrideEnv(&cfg.LogLevel, "LOG_LEVEL")

	if cfg.Port == "" {
		cfg.Port = "8787"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.OriginURL == "" {
		return nil, errors.New("origin_url（ORIGIN_URL）は必須です")
	}
	return cfg, nil
}

func overrideEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// getEnvOr は環境変数の値を返す。未設定または空の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
