// Package notification はプッシュ通知サーバーのHTTP層を提供する。
//
// 管理者による手動送信API、購読エンドポイントの登録、ラウンド状態とスケジュールの
// 更新API、外部ストアからの状態変更Webhookを公開する。送信処理そのものは
// trigger.Dispatcherに委譲する。
package notification
