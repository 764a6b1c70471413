// Package logging はzerologベースの構造化ロガーを生成する。
//
// 全サービスで共通のログ形式（JSONまたはコンソール）とログレベルを
// 環境変数から設定できるようにする。
package logging
