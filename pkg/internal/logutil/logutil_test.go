package logutil

import (
    "bytes"
    "encoding/json"
    "log"
    "strings"
    "testing"
)

func TestInfofPlainPrefix(t *testing.T) {
    SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    Infof(l, "role=%s", "master")
    if got := buf.String(); !strings.HasPrefix(got, "INFO role=master") {
        t.Fatalf("unexpected line: %q", got)
    }
}

func TestDebugfGated(t *testing.T) {
    SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    SetDebug(false)
    Debugf(l, "hidden")
    if buf.Len() != 0 { t.Fatalf("debug output while disabled: %q", buf.String()) }
    SetDebug(true)
    defer SetDebug(false)
    Debugf(l, "shown")
    if !strings.Contains(buf.String(), "DEBUG shown") { t.Fatalf("missing debug line: %q", buf.String()) }
}

func TestJSONMode(t *testing.T) {
    SetJSON(true)
    defer SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    Warnf(l, "dropped %d", 3)
    var evt map[string]any
    if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt); err != nil { t.Fatalf("decode: %v (%q)", err, buf.String()) }
    if evt["level"] != "warn" || evt["msg"] != "dropped 3" { t.Fatalf("unexpected event: %#v", evt) }
}

func TestJSONModeCarriesLoggerPrefix(t *testing.T) {
    SetJSON(true)
    defer SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "[n1] ", log.LstdFlags)
    Errorf(l, "boom")
    var evt map[string]any
    if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt); err != nil { t.Fatalf("decode: %v (%q)", err, buf.String()) }
    if evt["logger"] != "[n1]" || evt["level"] != "error" { t.Fatalf("unexpected event: %#v", evt) }
}

func TestDebugEnabled(t *testing.T) {
    SetDebug(true)
    if !DebugEnabled() { t.Fatalf("debug should be enabled") }
    SetDebug(false)
    if DebugEnabled() { t.Fatalf("debug should be disabled") }
}
