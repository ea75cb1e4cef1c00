package logger

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgelimit/edgelimit/pkg/config"
)

func NewLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Async {
		logger.SetOutput(io.Discard)
		logger.AddHook(NewAsyncConsoleHook(1000))
	}

	return logger
}
