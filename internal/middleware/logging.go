package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"imgcat/internal/logging"
)

// LoggingConfig selects which requests the access log records.
type LoggingConfig struct {
	// SkipPaths are path prefixes that are never logged.
	SkipPaths []string
	// LogHealthChecks logs probes to the health endpoints.
	LogHealthChecks bool
}

// DefaultLoggingConfig skips /metrics and the health probes.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{SkipPaths: []string{"/metrics"}}
}

var healthCheckPaths = prefixes{"/health", "/healthz", "/livez", "/readyz"}

// Logger writes one W3C Extended Log Format line per request once the
// handler returns, so a scan stream is logged when it ends:
//
//	date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes time-taken cs(Content-Encoding) cs(User-Agent)
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}
			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)
			logging.Info("%s", formatRequest(r, sw, time.Since(start), time.Now().UTC()))
		})
	}
}

func formatRequest(r *http.Request, sw *statusWriter, took time.Duration, now time.Time) string {
	field := func(s string) string { return orDash(sanitizeLogField(s)) }
	return strings.Join([]string{
		now.Format("2006-01-02 15:04:05"),
		field(getClientIP(r)),
		field(r.Method),
		field(r.URL.Path),
		field(r.URL.RawQuery),
		strconv.Itoa(sw.statusCode),
		strconv.FormatInt(sw.bytesWritten, 10),
		strconv.FormatInt(took.Milliseconds(), 10),
		orDash(sw.Header().Get("Content-Encoding")),
		escapeW3CField(field(r.Header.Get("User-Agent"))),
	}, " ")
}

// sanitizeLogField turns line breaks into spaces and drops other control
// characters except tab.
func sanitizeLogField(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r':
			return ' '
		case r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shouldSkip(path string, config LoggingConfig) bool {
	if prefixes(config.SkipPaths).match(path) {
		return true
	}
	return !config.LogHealthChecks && healthCheckPaths.exact(path)
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func escapeW3CField(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
