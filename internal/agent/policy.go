package agent

import (
	"net/http"
	"strings"
)

// Decision はリクエストに適用するキャッシュ方針。
type Decision int

const (
	// NetworkFirst はネットワークを優先し、失敗時にキャッシュへフォールバックする。
	NetworkFirst Decision = iota
	// Bypass はエージェントを介さずそのまま送信する。
	Bypass
)

// String は方針名を返す。
func (d Decision) String() string {
	if d == Bypass {
		return "bypass"
	}
	return "network-first"
}

// Policy はリクエストごとのキャッシュ方針を決める。副作用を持たない。
type Policy struct {
	bypassHosts []string
}

// NewPolicy はバイパス対象のホスト名部分文字列からPolicyを生成する。
func NewPolicy(bypassHosts []string) Policy {
	return Policy{bypassHosts: bypassHosts}
}

// Decide はリクエスト先のホスト名がバイパス対象を含めばBypass、それ以外はNetworkFirstを返す。
func (p Policy) Decide(req *http.Request) Decision {
	host := req.URL.Hostname()
	for _, h := range p.bypassHosts {
		if h != "" && strings.Contains(host, h) {
			return Bypass
		}
	}
	return NetworkFirst
}

// isNavigation はリクエストがトップレベルのドキュメント読み込みかどうかを判定する。
func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}
