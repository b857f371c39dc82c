package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// ConfigureLogger applies level and output to the shared logger.
// Unknown levels fall back to info.
func ConfigureLogger(level string, out io.Writer) {
	l := Logger()
	if out != nil {
		l.SetOutput(out)
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
}

// LogRequest emits a structured log line with common HTTP fields.
func LogRequest(fields map[string]any) {
	Logger().WithFields(logrus.Fields(fields)).Info("request_complete")
}
