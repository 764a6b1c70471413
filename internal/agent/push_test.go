package agent

import (
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/nao1215/fogpush/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParsePush はペイロードの解析と既定値の補完を検証する。
func TestParsePush(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   string
		wantTitle string
		wantBody  string
		wantData  string
	}{
		{
			name:      "notification形式",
			payload:   `{"notification":{"title":"Round Complete! 🏆","body":"Week 3 scoring is closed."},"data":{"week":"3"}}`,
			wantTitle: "Round Complete! 🏆",
			wantBody:  "Week 3 scoring is closed.",
			wantData:  `{"week":"3"}`,
		},
		{
			name:      "notification形式で本文が無い場合はNew notification",
			payload:   `{"notification":{"title":"X"}}`,
			wantTitle: "X",
			wantBody:  "New notification",
		},
		{
			name:      "notification形式で空文字は未指定と同じ",
			payload:   `{"notification":{"title":"","body":""}}`,
			wantTitle: "FOG Golf League",
			wantBody:  "New notification",
		},
		{
			name:      "フラット形式",
			payload:   `{"title":"Tee times","body":"Moved to 8am","data":{"url":"/schedule"}}`,
			wantTitle: "Tee times",
			wantBody:  "Moved to 8am",
			wantData:  `{"url":"/schedule"}`,
		},
		{
			name:      "フラット形式で本文が無い場合はYou have a new notification",
			payload:   `{"title":"Tee times"}`,
			wantTitle: "Tee times",
			wantBody:  "You have a new notification",
		},
		{
			name:      "JSONでなければ全体を本文にする",
			payload:   "Rain delay, check back at noon",
			wantTitle: "FOG Golf League",
			wantBody:  "Rain delay, check back at noon",
		},
		{
			name:      "壊れたJSONは全体を本文にする",
			payload:   `{"title":`,
			wantTitle: "FOG Golf League",
			wantBody:  `{"title":`,
		},
		{
			name:      "空のペイロードは既定値のみ",
			payload:   "",
			wantTitle: "FOG Golf League",
			wantBody:  "You have a new notification",
		},
		{
			name:      "空白だけのテキストは既定の本文になる",
			payload:   " \t\n  ",
			wantTitle: "FOG Golf League",
			wantBody:  "You have a new notification",
		},
		{
			name:      "テキストの前後の空白は取り除く",
			payload:   "  Rain delay\n",
			wantTitle: "FOG Golf League",
			wantBody:  "Rain delay",
		},
		{
			name:      "dataがnullなら添付しない",
			payload:   `{"title":"T","body":"B","data":null}`,
			wantTitle: "T",
			wantBody:  "B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			title, body, data := parsePush([]byte(tt.payload))
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantBody, body)
			if tt.wantData == "" {
				assert.Nil(t, data)
			} else {
				assert.JSONEq(t, tt.wantData, string(data))
			}
		})
	}
}

// TestHandlePush は通知の表示を検証する。
func TestHandlePush(t *testing.T) {
	t.Parallel()

	t.Run("通知ごとに異なるタグで表示されること", func(t *testing.T) {
		t.Parallel()
		var seq atomic.Int64
		center := NewNotificationCenter()
		reg := prometheus.NewRegistry()
		m := metrics.NewAgent(reg)
		a, _ := newTestAgent(t, newFakeNetwork(nil),
			WithNotifier(center),
			WithMetrics(m),
			WithIDSource(func() string { return strconv.FormatInt(seq.Add(1), 10) }),
		)

		n1, err := a.HandlePush(t.Context(), []byte(`{"notification":{"title":"A","body":"same"}}`))
		require.NoError(t, err)
		n2, err := a.HandlePush(t.Context(), []byte(`{"notification":{"title":"A","body":"same"}}`))
		require.NoError(t, err)

		assert.Equal(t, "fog-notification-1", n1.Tag)
		assert.Equal(t, "fog-notification-2", n2.Tag)
		assert.Equal(t, "/icon-192.png", n1.Icon)
		assert.Equal(t, "/icon-192.png", n1.Badge)
		assert.Len(t, center.List(), 2, "同じ内容でも置き換えられない")
		assert.Equal(t, 2.0, counterValue(t, reg, "fogpush_agent_notifications_shown_total", "", ""))
	})

	t.Run("既定のIDSourceでもタグが重複しないこと", func(t *testing.T) {
		t.Parallel()
		a, _ := newTestAgent(t, newFakeNetwork(nil))

		seen := map[string]bool{}
		for range 50 {
			n, err := a.HandlePush(t.Context(), nil)
			require.NoError(t, err)
			require.False(t, seen[n.Tag], "タグが重複: %s", n.Tag)
			seen[n.Tag] = true
		}
	})
}
