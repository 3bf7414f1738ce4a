package log

import (
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var defaultLoggerCacheExpiry = 6 * time.Hour

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// AddContext permanently attaches key/value pairs to the logger for taskID.
// Any future logging for this task will include them.
func AddContext(taskID string, keyvals ...interface{}) {
	_ = loggerCache.Add(taskID, kitlog.With(getLogger(taskID), keyvals...), defaultLoggerCacheExpiry)
}

func Log(taskID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(taskID), "msg", message).Log(keyvals...)
}

// LogNoTaskID is for logging outside the scope of any one task. Should be
// used sparingly and with as much context in the message as possible.
func LogNoTaskID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(keyvals...)
}

func LogError(taskID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(taskID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(keyvals...)
}

func getLogger(taskID string) kitlog.Logger {
	logger, found := loggerCache.Get(taskID)
	if found {
		return logger.(kitlog.Logger)
	}

	taskLogger := kitlog.With(newLogger(), "task_id", taskID)
	err := loggerCache.Add(taskID, taskLogger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = taskLogger.Log("msg", "error adding logger to cache", "task_id", taskID)
	}
	return taskLogger
}

func newLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}
