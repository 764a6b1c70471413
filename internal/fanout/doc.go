// Package fanout は通知1件を全エンドポイントへマルチキャスト送信し、
// 恒久的に無効となったエンドポイントをレジストリから削除するファンアウト処理を提供する。
package fanout
