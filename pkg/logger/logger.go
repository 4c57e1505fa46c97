package logger

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

// Level is the logger severity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stderr
	level            = LevelInfo
	asJSON bool
)

// SetLevel sets the global severity threshold.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput redirects log output (tests use a buffer).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetJSON switches between human-readable and JSON line output.
func SetJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	asJSON = enabled
}

func DebugC(component, msg string) { log(LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { log(LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { log(LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { log(LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	log(LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	log(LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	log(LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	log(LevelError, component, msg, fields)
}

func log(l Level, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	threshold := level
	w := out
	jsonMode := asJSON
	mu.RUnlock()

	if l < threshold {
		return
	}

	now := time.Now().Format("2006-01-02T15:04:05.000")

	if jsonMode {
		entry := map[string]interface{}{
			"ts":        now,
			"level":     levelNames[l],
			"component": component,
			"msg":       msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(w, "%s %s [%s] %s (marshal error: %v)\n", now, levelNames[l], component, msg, err)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}

	var sb strings.Builder
	sb.WriteString(now)
	sb.WriteString(" ")
	sb.WriteString(levelNames[l])
	sb.WriteString(" [")
	sb.WriteString(component)
	sb.WriteString("] ")
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}

	fmt.Fprintln(w, sb.String())
}
