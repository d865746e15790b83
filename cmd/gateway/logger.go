package main

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
	"github.com/yoyo3287258/command-gateway/internal/config"
)

// newLogger 创建日志器，text格式使用tint彩色输出
func newLogger(output io.Writer, level slog.Level, format string) *slog.Logger {
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	}

	handler := tint.NewHandler(output, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05.000Z07:00",
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}
