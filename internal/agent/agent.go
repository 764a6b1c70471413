package agent

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/nao1215/fogpush/pkg/metrics"
	"github.com/rs/zerolog"
)

// State はエージェントのライフサイクル上の状態。
type State int

const (
	// StateParsed は生成直後でインストール前の状態。
	StateParsed State = iota
	// StateInstalled はシェルの事前キャッシュが完了した状態。
	StateInstalled
	// StateActivated は古いストアを削除し、全クライアントを制御下に置いた状態。
	StateActivated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateActivated:
		return "activated"
	default:
		return "parsed"
	}
}

// IDSource は通知タグに付与する一意なIDを返す。
type IDSource func() string

// timeOrderedID は現在時刻を含むUUIDv7を返す。
func timeOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Agent はクライアント側の常駐エージェント。
type Agent struct {
	cfg      Config
	origin   *url.URL
	policy   Policy
	storage  CacheStorage
	network  http.RoundTripper
	notifier Notifier
	clients  Clients
	ids      IDSource
	metrics  *metrics.Agent
	log      zerolog.Logger

	mu    sync.RWMutex
	state State
}

// Option はAgentの生成オプション。
type Option func(*Agent)

// WithNetwork は実際のネットワーク送信に使うRoundTripperを指定する。既定はhttp.DefaultTransport。
func WithNetwork(rt http.RoundTripper) Option {
	return func(a *Agent) { a.network = rt }
}

// WithNotifier は通知の表示先を指定する。既定はNotificationCenter。
func WithNotifier(n Notifier) Option {
	return func(a *Agent) { a.notifier = n }
}

// WithClients はウィンドウクライアントの管理先を指定する。既定はClientRegistry。
func WithClients(c Clients) Option {
	return func(a *Agent) { a.clients = c }
}

// WithIDSource は通知タグのID生成方法を指定する。
func WithIDSource(ids IDSource) Option {
	return func(a *Agent) { a.ids = ids }
}

// WithMetrics はメトリクスの記録先を指定する。
func WithMetrics(m *metrics.Agent) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithLogger はロガーを指定する。
func WithLogger(log zerolog.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// New は新しいエージェントを生成する。
func New(cfg Config, storage CacheStorage, opts ...Option) (*Agent, error) {
	cfg = cfg.withDefaults()
	origin, err := parseOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}
	if cfg.Scope == "" {
		cfg.Scope = origin.String() + "/"
	}

	a := &Agent{
		cfg:     cfg,
		origin:  origin,
		policy:  NewPolicy(cfg.BypassHosts),
		storage: storage,
		network: http.DefaultTransport,
		ids:     timeOrderedID,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.notifier == nil {
		a.notifier = NewNotificationCenter()
	}
	if a.clients == nil {
		a.clients = NewClientRegistry(cfg.Scope, nil)
	}
	a.log = a.log.With().Str("component", "agent").Str("cache", cfg.CacheName).Logger()
	return a, nil
}

// State は現在のライフサイクル状態を返す。
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// Config は既定値を適用済みの設定を返す。
func (a *Agent) Config() Config {
	return a.cfg
}
