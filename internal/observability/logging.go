package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	// JSON format is recommended for production; text for development
	Format string

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool
}

// sensitiveKeyParts flags attribute keys whose values must never be logged.
// Matching is case-insensitive on substrings, mirroring the key detection
// used when masking configuration files.
var sensitiveKeyParts = []string{"apikey", "api_key", "password", "token", "secret", "auth"}

// secretValuePatterns catches secret-shaped values logged under innocent keys.
var secretValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
}

// NewLogger creates a structured slog.Logger with the given configuration.
//
// String attribute values are redacted before being written: attributes whose
// key looks sensitive (api keys, passwords, tokens) are replaced wholesale,
// and values that themselves look like credentials are replaced even when
// logged under a harmless key.
//
// If config.Output is nil, logs are written to os.Stderr.
// If config.Level is empty or invalid, defaults to "info".
// If config.Format is empty, defaults to "json".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   config.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	return slog.New(handler)
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if isSensitiveKey(a.Key) {
		a.Value = slog.StringValue("****")
		return a
	}
	a.Value = slog.StringValue(RedactString(a.Value.String()))
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// RedactString replaces credential-shaped substrings with "****".
// It is exported so error paths that format free text can scrub it too.
func RedactString(s string) string {
	for _, re := range secretValuePatterns {
		s = re.ReplaceAllString(s, "****")
	}
	return s
}
