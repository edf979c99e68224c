package api

import (
	"log"
	"net/http"
	"strconv"
	"time"
)

const (
	colorReset     = "\033[0m"
	colorCyan      = "\033[36m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// statusColors is indexed by status class (code / 100).
var statusColors = [...]string{2: colorBoldGreen, 3: colorYellow, 4: colorBoldRed, 5: colorBoldRed}

func statusCodeColor(code int) string {
	s := strconv.Itoa(code)
	if class := code / 100; class >= 0 && class < len(statusColors) && statusColors[class] != "" {
		return statusColors[class] + s + colorReset
	}
	return s
}

// accessRecorder remembers what the handler sent.
type accessRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (a *accessRecorder) WriteHeader(code int) {
	a.status = code
	a.ResponseWriter.WriteHeader(code)
}

func (a *accessRecorder) Write(b []byte) (int, error) {
	n, err := a.ResponseWriter.Write(b)
	a.bytes += n
	return n, err
}

// Flush keeps SSE debug routes streaming through the middleware.
func (a *accessRecorder) Flush() {
	if f, ok := a.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware writes one access log line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &accessRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[%s] %s %s%s%s %dB %.2fms",
			statusCodeColor(rec.status), r.Method,
			colorCyan, r.RequestURI, colorReset,
			rec.bytes, float64(time.Since(start).Microseconds())/1000)
	})
}
