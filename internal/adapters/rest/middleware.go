package rest

import (
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// requestLogger tags each request with an ID and logs its outcome.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		fields := logrus.Fields{
			"request_id":    requestID,
			"method":        r.Method,
			"path":          r.URL.Path,
			"status":        rec.status,
			"latency_ms":    time.Since(start).Milliseconds(),
			"session_id":    w.Header().Get(sessionHeader),
			"response_size": rec.bytes,
		}
		switch {
		case rec.status >= 500:
			h.log.WithFields(fields).Error("Server error")
		case rec.status >= 400:
			h.log.WithFields(fields).Warn("Client error")
		default:
			h.log.WithFields(fields).Info("Success")
		}
	})
}

// recoverer turns a panic into a 500.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				h.log.WithFields(logrus.Fields{
					"panic": v,
					"path":  r.URL.Path,
					"stack": string(debug.Stack()),
				}).Error("recovered from panic")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// sessionLimiter keeps one token bucket per session.
type sessionLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newSessionLimiter(perMinute, burst int) *sessionLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &sessionLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		idle:    10 * time.Minute,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *sessionLimiter) allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[sessionID]
	if !ok {
		if len(l.buckets) >= 1024 {
			l.sweep(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[sessionID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *sessionLimiter) sweep(now time.Time) {
	for id, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, id)
		}
	}
}
