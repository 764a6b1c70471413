// Package trigger はプッシュ通知の送信契機を扱う。
//
// ラウンド状態の変更（未オープン→オープン、オープン→クローズ）を検知して
// 通知文を組み立てるディスパッチャと、管理者による手動送信の入口を提供する。
// SQLiteには変更フィードがないため、Watcherが定期的に状態をポーリングして差分を検出する。
package trigger
