package log

import (
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var defaultLoggerCacheExpiry = 6 * time.Hour

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stderr
)

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// SetFile additionally appends all log output to the given file. The file is
// opened append-only so concurrent API and worker processes can share it.
func SetFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	outputMu.Lock()
	output = io.MultiWriter(os.Stderr, f)
	outputMu.Unlock()
	return nil
}

// Permanently add context to the logger. Any future logging for this job ID will include this context
func AddContext(jobID string, keyvals ...interface{}) {
	logger := kitlog.With(getLogger(jobID), redactKeyvals(keyvals...)...)

	err := loggerCache.Replace(jobID, logger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = logger.Log("msg", "error replacing logger in cache: "+err.Error())
	}
}

func Log(jobID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(jobID), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// Log in situations where we don't have access to the job ID.
// Should be used sparingly and with as much context inserted into the message as possible
func LogNoJobID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

func LogError(jobID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(jobID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

func getLogger(jobID string) kitlog.Logger {
	logger, found := loggerCache.Get(jobID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "job_id", jobID)
	err := loggerCache.Add(jobID, newLogger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "job_id", jobID, "err", err.Error())
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	outputMu.Lock()
	w := output
	outputMu.Unlock()
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	var res []interface{}
	for i := range keyvals {
		if i%2 == 1 {
			k, v := keyvals[i-1], keyvals[i]
			res = append(res, k)
			switch s := v.(type) {
			case string:
				res = append(res, RedactURL(s))
			case url.URL:
				res = append(res, s.Redacted())
			case *url.URL:
				if s != nil {
					res = append(res, s.Redacted())
				}
			default:
				res = append(res, v)
			}
		}
	}
	return res
}

func RedactURL(str string) string {
	strLower := strings.ToLower(str)
	if !strings.HasPrefix(strLower, "http") {
		return str
	}

	u, err := url.Parse(str)
	if err != nil {
		return "REDACTED"
	}
	return u.Redacted()
}
