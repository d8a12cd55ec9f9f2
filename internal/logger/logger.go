// Package logger はJSON構造化ログの出力先とレベルを管理する。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// level は全ロガー共通のログレベル。設定読み込み後にSetLevelで変更できる。
var level = new(slog.LevelVar)

// Setup はwに出力するJSONロガーを返す。attrsは全レコードに付与される。
func Setup(w io.Writer, attrs ...any) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With(attrs...)
}

// SetupDefault はSetupで作ったロガーをグローバルロガーにする。wがnilならos.Stdout。
func SetupDefault(w io.Writer, attrs ...any) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, attrs...))
}

// ParseLevel はLOG_LEVELの値（debug, info, warn, error）をslog.Levelに変換する。空文字はinfo。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// SetLevel はSetup済みの全ロガーのレベルを変更する。
func SetLevel(s string) error {
	l, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.Set(l)
	return nil
}
