// Package pushgateway はプッシュ配信ゲートウェイへのマルチキャスト送信クライアントを提供する。
//
// 1つのメッセージを複数のデバイストークンへ1回のバッチ呼び出しで送信し、
// トークンごとの送信結果を返す。実際のデバイスへの配信はゲートウェイ側が担う。
package pushgateway
