// Package registry はプッシュ通知の購読者レジストリへのアクセスを提供する。
//
// 送信先エンドポイント（FCMトークン）の一覧取得と削除、管理者許可リスト、
// 週ごとのスコア入力状態とスケジュールをSQLiteに保存する。
// ロジックは持たず、基本的なCRUDのみを提供する。
package registry
