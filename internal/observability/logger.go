package observability

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/dshills/modular/internal/config"
)

// NewLogger builds a logger from the log options. An unknown level falls
// back to info.
func NewLogger(opts config.LogOptions, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}

	switch opts.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
