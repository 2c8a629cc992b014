package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one access line per request through log, so access
// lines follow the configured level and format.
func RequestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&requestLogFormatter{log: log})
}

type requestLogFormatter struct {
	log *logrus.Logger
}

func (f *requestLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestLogEntry{entry: f.log.WithFields(logrus.Fields{
		"request_id":  middleware.GetReqID(r.Context()),
		"method":      r.Method,
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
	})}
}

type requestLogEntry struct {
	entry *logrus.Entry
}

func (e *requestLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	e.entry.WithFields(logrus.Fields{
		"status":     status,
		"bytes":      bytes,
		"elapsed_ms": float64(elapsed.Microseconds()) / 1000,
	}).Info("Request completed")
}

func (e *requestLogEntry) Panic(v interface{}, stack []byte) {
	e.entry.WithFields(logrus.Fields{
		"panic": v,
		"stack": string(stack),
	}).Error("Request panicked")
}
