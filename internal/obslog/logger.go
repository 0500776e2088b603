// Package obslog configures structured logging for the service, adapted
// from eve.evalgo.org/common's LoggerConfig/NewLogger shape.
package obslog

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Level names a minimum log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config configures New.
type Config struct {
	Level   Level
	Format  string // "json" or "text"
	Service string
}

// DefaultConfig returns sensible defaults: info level, text format.
func DefaultConfig(service string) Config {
	return Config{Level: LevelInfo, Format: "text", Service: service}
}

// New creates a *logrus.Logger with cfg's level and format. cfg.Service
// is not attached to log entries.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	return logger
}

// JobFields builds the structured-log field set for a background-worker
// failure: job id, entity name, error category, attempt/max, worker id,
// rate-limiter state.
func JobFields(jobID, entityName, errorCategory string, attempt, maxAttempts int, workerID string, rateLimiterAvailable int) logrus.Fields {
	return logrus.Fields{
		"job_id":             jobID,
		"entity_name":        entityName,
		"error_category":     errorCategory,
		"attempt":            attempt,
		"max_attempts":       maxAttempts,
		"worker_id":          workerID,
		"rate_limiter_state": rateLimiterAvailable,
	}
}
