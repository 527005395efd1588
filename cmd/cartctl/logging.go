package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/config"
	logrusadapter "github.com/unkn0wn-root/storecache/log/logrus"
	slogadapter "github.com/unkn0wn-root/storecache/log/slog"
	zapadapter "github.com/unkn0wn-root/storecache/log/zap"
)

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// newLogger returns the component logger plus a slog logger for cache hooks,
// both writing to stderr in the configured format.
func newLogger(cfg config.LogConfig) (storecache.Logger, *slog.Logger, func(), error) {
	level := slogLevel(cfg.Level)

	switch cfg.Format {
	case "json":
		zc := zap.NewProductionConfig()
		zl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(zl)
		zc.OutputPaths = []string{"stderr"}
		z, err := zc.Build()
		if err != nil {
			return nil, nil, nil, err
		}
		sl := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return zapadapter.New(z, "cartctl"), sl, func() { _ = z.Sync() }, nil

	case "text":
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		lv, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, nil, err
		}
		l.SetLevel(lv)
		sl := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return logrusadapter.New(l, "cartctl"), sl, func() {}, nil
	}

	sl := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(sl)
	return slogadapter.Logger{L: sl}, sl, func() {}, nil
}
