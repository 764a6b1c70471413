// Package config は環境変数（.envファイルを含む）とYAMLファイルから設定を読み込む。
package config
