// Package httpclient は外部サービスとのJSON形式のHTTP通信を行うクライアントを提供する。
//
// プッシュゲートウェイへのマルチキャスト送信など、JSONを送受信する
// 外部APIの呼び出しパターンを統一する。
package httpclient
