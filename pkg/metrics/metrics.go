// Package metrics はプッシュ配信とクライアントエージェントのPrometheusメトリクスを提供する。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace は全メトリクス共通の名前空間。
const namespace = "fogpush"

// Fanout はファンアウト処理のメトリクス。
// nilレシーバーでも安全に呼び出せる。
type Fanout struct {
	broadcasts *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	pruned     prometheus.Counter
}

// NewFanout はファンアウト用のメトリクスを生成しregに登録する。
// regがnilの場合はprometheus.DefaultRegistererを使用する。
func NewFanout(reg prometheus.Registerer) *Fanout {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := &Fanout{
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Total broadcast invocations by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "deliveries_total",
			Help:      "Per-endpoint delivery results reported by the push gateway.",
		}, []string{"result"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "pruned_endpoints_total",
			Help:      "Endpoints removed from the registry after terminal errors.",
		}),
	}
	reg.MustRegister(f.broadcasts, f.deliveries, f.pruned)
	return f
}

// ObserveBroadcast はブロードキャスト1回分の結果を記録する。
// outcomeには "sent", "empty", "error" のいずれかを指定する。
func (f *Fanout) ObserveBroadcast(outcome string, success, failure int) {
	if f == nil {
		return
	}
	f.broadcasts.WithLabelValues(outcome).Inc()
	f.deliveries.WithLabelValues("success").Add(float64(success))
	f.deliveries.WithLabelValues("failure").Add(float64(failure))
}

// ObservePruned は削除したエンドポイント数を記録する。
func (f *Fanout) ObservePruned(n int) {
	if f == nil {
		return
	}
	f.pruned.Add(float64(n))
}

// Agent はクライアントエージェントのメトリクス。
// nilレシーバーでも安全に呼び出せる。
type Agent struct {
	fetches       *prometheus.CounterVec
	notifications prometheus.Counter
}

// NewAgent はエージェント用のメトリクスを生成しregに登録する。
func NewAgent(reg prometheus.Registerer) *Agent {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Agent{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "fetches_total",
			Help:      "Intercepted requests by the source that answered them.",
		}, []string{"source"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "notifications_shown_total",
			Help:      "Notifications rendered from inbound push events.",
		}),
	}
	reg.MustRegister(a.fetches, a.notifications)
	return a
}

// ObserveFetch はリクエストに応答した経路を記録する。
func (a *Agent) ObserveFetch(source string) {
	if a == nil {
		return
	}
	a.fetches.WithLabelValues(source).Inc()
}

// ObserveNotification は表示した通知を記録する。
func (a *Agent) ObserveNotification() {
	if a == nil {
		return
	}
	a.notifications.Inc()
}
