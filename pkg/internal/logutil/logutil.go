// Package logutil writes leveled lines through a standard *log.Logger, as
// plain text or as one JSON object per line.
package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

type level int

const (
    levelDebug level = iota
    levelInfo
    levelWarn
    levelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l level) String() string { return levelNames[l] }

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

// USAGE_LOG_FORMAT=json and USAGE_LOG_LEVEL=debug preset the modes for
// binaries that never call SetJSON or SetDebug.
func init() {
    jsonMode.Store(os.Getenv("USAGE_LOG_JSON") == "1" || strings.EqualFold(os.Getenv("USAGE_LOG_FORMAT"), "json"))
    debugMode.Store(strings.EqualFold(os.Getenv("USAGE_LOG_LEVEL"), "debug"))
}

// SetJSON switches between prefixed text lines and JSON lines.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// SetDebug enables Debugf output.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// DebugEnabled reports whether Debugf lines are written.
func DebugEnabled() bool { return debugMode.Load() }

func Debugf(l *log.Logger, f string, args ...any) {
    if debugMode.Load() { output(l, levelDebug, f, args...) }
}
func Infof(l *log.Logger, f string, args ...any)  { output(l, levelInfo, f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { output(l, levelWarn, f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { output(l, levelError, f, args...) }

func output(l *log.Logger, lv level, f string, args ...any) {
    if l == nil { l = log.Default() }
    msg := fmt.Sprintf(f, args...)
    if !jsonMode.Load() {
        // calldepth 3 points Lshortfile at the caller of Infof and friends
        _ = l.Output(3, strings.ToUpper(lv.String())+" "+msg)
        return
    }
    evt := map[string]any{"ts": time.Now().UTC().Format(time.RFC3339Nano), "level": lv.String(), "msg": msg}
    if p := strings.TrimSpace(l.Prefix()); p != "" { evt["logger"] = p }
    b, err := json.Marshal(evt)
    if err != nil { b = []byte(fmt.Sprintf(`{"level":%q,"msg":%q}`, lv, msg)) }
    // the JSON object carries its own timestamp and prefix
    fmt.Fprintln(l.Writer(), string(b))
}
