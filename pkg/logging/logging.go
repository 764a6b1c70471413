package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// consoleTimeFormat はコンソール出力時のタイムスタンプ形式。
const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New はサービス名を付与したロガーを生成する。
// levelには "debug", "info", "warn", "error" などを指定する。不正な値はinfoとして扱う。
// consoleがtrueの場合は人間向けのコンソール形式で出力する。
func New(service, level string, console bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}
	}
	return NewWithWriter(w, service, level)
}

// NewWithWriter は出力先を指定してロガーを生成する。テストでの出力検証に使用する。
func NewWithWriter(w io.Writer, service, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// ParseLevel はログレベル文字列をzerolog.Levelに変換する。
func ParseLevel(level string) zerolog.Level {
	lv, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lv == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lv
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
