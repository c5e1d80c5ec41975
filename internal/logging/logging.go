package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger and returns a root entry
func Setup(level, format string, out io.Writer) (*logrus.Entry, error) {
	logger := logrus.StandardLogger()
	if err := Configure(logger, level, format); err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)
	return logrus.NewEntry(logger).WithField("service", "agentdash"), nil
}

// Configure applies level and format to logger
func Configure(logger *logrus.Logger, level, format string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(orDefault(level, "info")))
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", format)
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
