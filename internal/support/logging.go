package support

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging sets the default logger level from LOG_LEVEL and, when
// LOG_FILE is set, tees output into a size-rotated file.
func ConfigureLogging(production bool) io.Closer {
	level := log.DebugLevel
	if production {
		level = log.InfoLevel
	}
	if raw := strings.TrimSpace(GetEnv("LOG_LEVEL", "")); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err != nil {
			log.Warn("invalid LOG_LEVEL, keeping default", "value", raw, "default", level)
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)

	path := strings.TrimSpace(GetEnv("LOG_FILE", ""))
	if path == "" {
		return io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    GetEnvInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: GetEnvInt("LOG_MAX_BACKUPS", 5),
		MaxAge:     GetEnvInt("LOG_MAX_AGE_DAYS", 28),
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Info("Logging to file", "path", path)
	return rotator
}
