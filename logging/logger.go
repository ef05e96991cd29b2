package logging

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Logger logrus.FieldLogger

type ctxKey struct{}

// New creates a logger writing to stdout, format is either "json" or "text"
func New(level, format string) (Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	return logger, nil
}

// SetOutput redirects a logger created by New, other loggers are left alone
func SetOutput(logger Logger, w io.Writer) {
	if l, ok := logger.(*logrus.Logger); ok {
		l.SetOutput(w)
	}
}

// Discard is used by tests and tools that don't care about logs
func Discard() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return logger
	}
	return logrus.StandardLogger()
}
