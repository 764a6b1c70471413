package agent

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPolicyDecide はホスト名によるキャッシュ方針の判定を検証する。
func TestPolicyDecide(t *testing.T) {
	t.Parallel()

	p := NewPolicy(DefaultBypassHosts)
	tests := []struct {
		name string
		url  string
		want Decision
	}{
		{name: "オリジンはネットワーク優先", url: testOrigin + "/index.html", want: NetworkFirst},
		{name: "データベースのホストはバイパス", url: "https://fog-golf-default-rtdb.firebaseio.com/rounds.json", want: Bypass},
		{name: "APIのホストはバイパス", url: "https://identitytoolkit.googleapis.com/v1/accounts", want: Bypass},
		{name: "メール送信のホストはバイパス", url: "https://api.emailjs.com/api/v1.0/email/send", want: Bypass},
		{name: "SDK配信のホストはバイパス", url: "https://www.gstatic.com/firebasejs/app.js", want: Bypass},
		{name: "関数呼び出しのホストはバイパス", url: "https://us-central1-fog-golf.cloudfunctions.net/sendNotification", want: Bypass},
		{name: "ポート付きでもホスト名で判定する", url: "http://localhost.googleapis.com:8080/x", want: Bypass},
		{name: "パスに含まれるだけではバイパスしない", url: testOrigin + "/firebaseio.com", want: NetworkFirst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
			assert.Equal(t, tt.want, p.Decide(req))
		})
	}
}

// TestIsNavigation はナビゲーション判定を検証する。
func TestIsNavigation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		header map[string]string
		want   bool
	}{
		{name: "Sec-Fetch-Modeがnavigate", method: http.MethodGet, header: map[string]string{"Sec-Fetch-Mode": "navigate"}, want: true},
		{name: "GETでHTMLを受け入れる", method: http.MethodGet, header: map[string]string{"Accept": "text/html,application/xhtml+xml"}, want: true},
		{name: "POSTでHTMLを受け入れる", method: http.MethodPost, header: map[string]string{"Accept": "text/html"}, want: false},
		{name: "スクリプトの取得", method: http.MethodGet, header: map[string]string{"Sec-Fetch-Mode": "no-cors", "Accept": "*/*"}, want: false},
		{name: "ヘッダー無し", method: http.MethodGet, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, _ := http.NewRequest(tt.method, testOrigin+"/rounds/3", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, isNavigation(req))
		})
	}
}
