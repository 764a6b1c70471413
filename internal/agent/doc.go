// Package agent はクライアント側に常駐するエージェントを提供する。
//
// エージェントはページとは独立したライフサイクルを持ち、次の3つを担う。
//
//   - アプリケーションへのリクエストを横取りし、ネットワーク優先のキャッシュ方針を適用する
//   - 受信したプッシュを解析して通知を表示する
//   - 通知のクリックを受けて既存ウィンドウへのフォーカスか新規ウィンドウの表示を行う
//
// リクエストの横取りはhttp.RoundTripperとして実装しているため、Serverのリバースプロキシ
// 経由でもhttp.Client経由でも同じ方針が適用される。
package agent
