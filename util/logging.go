package util

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LevelEnv is consulted when no explicit log level is given.
const LevelEnv = "LOG_LEVEL"

var initOnce sync.Once

// InitLogging configures the process-wide logrus sink. Only the first call has
// any effect; components emit to the standard logger and never reconfigure it.
func InitLogging(level string) error {
	var err error
	initOnce.Do(func() {
		var lvl log.Level
		lvl, err = ParseLevel(level)
		if err != nil {
			return
		}
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
		log.SetLevel(lvl)
	})
	return err
}

// ParseLevel resolves the log level, falling back to $LOG_LEVEL and then info.
func ParseLevel(level string) (log.Level, error) {
	if level == "" {
		level = os.Getenv(LevelEnv)
	}
	if level == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return log.InfoLevel, errors.Wrapf(err, "invalid log level %q", level)
	}
	return lvl, nil
}
