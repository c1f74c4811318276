package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the default Logger used by the instrumentation core.
//
// Design Principles:
//   - Self-contained: only depends on the standard output stream by default
//   - Production-ready: JSON format in K8s, text for local dev
//   - Rate-limited: a hook failing on every call logs once per second
//   - Thread-safe: Safe for concurrent access
//
// Instrumentation must never take down the host application, so write
// failures are ignored.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	// Rate limiting to prevent log flooding during failures
	errorLimiter *RateLimiter
}

// NewProductionLogger creates a logger from the logging configuration.
// Configuration priority:
//  1. Explicit LoggingConfig values (highest)
//  2. Environment variables (DD_TRACE_LOG_LEVEL, DD_TRACE_DEBUG, DD_TRACE_LOG_FORMAT)
//  3. Auto-detection (K8s environment => json)
//  4. Defaults (lowest)
func NewProductionLogger(cfg LoggingConfig, serviceName, component string) *ProductionLogger {
	level := cfg.Level
	if level == "" {
		level = os.Getenv(EnvLogLevel)
	}
	if level == "" {
		level = "INFO"
	}
	level = strings.ToUpper(level)

	debug := level == "DEBUG" || os.Getenv(EnvDebug) == "true"
	if debug {
		level = "DEBUG"
	}

	format := cfg.Format
	if format == "" {
		format = os.Getenv(EnvLogFormat)
	}
	if format == "" {
		format = "text"
		if os.Getenv(EnvKubernetesHost) != "" {
			format = "json"
		}
	}

	if component == "" {
		component = "instrumentation"
	}

	return &ProductionLogger{
		level:        level,
		debug:        debug,
		serviceName:  serviceName,
		component:    component,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(1 * time.Second),
	}
}

// WithComponent returns a logger sharing configuration but tagged with a
// different component name.
func (l *ProductionLogger) WithComponent(component string) *ProductionLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ProductionLogger{
		level:        l.level,
		debug:        l.debug,
		serviceName:  l.serviceName,
		component:    component,
		format:       l.format,
		output:       l.output,
		errorLimiter: l.errorLimiter,
	}
}

// Info logs informational messages
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages, at most one per message and second
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.AllowKey(msg) {
		return
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.mu.RLock()
	debug := l.debug
	l.mu.RUnlock()
	if !debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if levelRank(level) < levelRank(l.level) {
		return
	}

	ts := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		l.writeJSON(ts, level, msg, fields)
		return
	}
	l.writeText(ts, level, msg, fields)
}

// reservedFields cannot be overwritten by caller fields in JSON output
var reservedFields = map[string]bool{
	"timestamp": true,
	"level":     true,
	"service":   true,
	"component": true,
	"message":   true,
}

func (l *ProductionLogger) writeJSON(ts, level, msg string, fields map[string]interface{}) {
	entry := make(map[string]interface{}, len(fields)+len(reservedFields))
	for k, v := range fields {
		if reservedFields[k] {
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["timestamp"] = ts
	entry["level"] = level
	entry["service"] = l.serviceName
	entry["component"] = l.component
	entry["message"] = msg

	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) writeText(ts, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s:%s] %s", ts, level, l.component, l.serviceName, msg)

	// error first, everything else sorted for stable output
	if v, ok := fields["error"]; ok {
		fmt.Fprintf(&b, " error=%q", fmt.Sprint(v))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "error" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	b.WriteByte('\n')
	io.WriteString(l.output, b.String())
}

// levelRank orders levels. Unknown levels rank as INFO.
func levelRank(level string) int {
	switch level {
	case "DEBUG":
		return 0
	case "WARN":
		return 2
	case "ERROR":
		return 3
	default:
		return 1
	}
}

// SetLevel dynamically updates the log level
func (l *ProductionLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
	l.debug = l.level == "DEBUG"
}

// SetFormat dynamically updates the log format
func (l *ProductionLogger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
}

// SetOutput changes the output writer (useful for testing)
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}
