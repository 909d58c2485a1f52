package logger

import "strings"

// Level names as they appear in the "level" field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
	"fatal":   LevelFatal,
}

// statuses lists the values accepted in "status"; "outcome" takes the subset
// marked true.
var statuses = map[string]bool{
	"ok":           true,
	"fail":         true,
	"skip":         false,
	"retry":        false,
	"rate_limited": true,
	"cancelled":    true,
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if name, ok := levelNames[strings.ToLower(level)]; ok {
		return name
	}
	return strings.ToUpper(level)
}

// normalizeStatus lowercases s. Unknown values are passed through so a typo
// stays visible in the output.
func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeOutcome(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, statuses[s]
}

var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "handler",
	"method", "route", "http_status", "outcome", "duration_ms",
	"messages", "code", "order_id", "recipient", "items", "total",
	"delivered", "failed", "sessions",
	"username", "mode", "listen", "addr", "db", "host", "port",
	"err", "err_code", "retryable", "attempts", "backoff_ms",
}

var sensitiveKeys = map[string]struct{}{
	"code": {},
}

// MaskSecret keeps the first four runes of s and stars out the rest.
func MaskSecret(s string) string {
	const keep = 4
	r := []rune(s)
	if len(r) <= keep {
		return strings.Repeat("*", len(r))
	}
	return string(r[:keep]) + strings.Repeat("*", len(r)-keep)
}
