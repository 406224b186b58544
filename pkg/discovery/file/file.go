package file

import (
    "bufio"
    "log"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-usage/pkg/discovery"
    "github.com/amirimatin/go-usage/pkg/internal/logutil"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path is a file or glob pattern. Each line holds one or more
    // comma-separated seeds; '#' starts a comment line.
    Path string
    // Env, when set and non-empty in the environment, overrides Path.
    Env string
    // Refresh bounds how long a read is cached; defaults to 5s.
    Refresh time.Duration
    Logger  *log.Logger
}

type impl struct {
    opts Options

    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &impl{opts: opts}
}

func (i *impl) Seeds() []string {
    if i.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" { return discovery.Normalize(v) }
    }
    if i.opts.Path == "" { return nil }

    i.mu.Lock()
    defer i.mu.Unlock()
    now := time.Now()
    if st, err := os.Stat(i.opts.Path); err == nil {
        if st.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            i.cache = i.load(i.opts.Path)
            i.last, i.mtime = now, st.ModTime()
        }
        return append([]string(nil), i.cache...)
    }
    if now.Sub(i.last) < i.opts.Refresh && i.cache != nil {
        return append([]string(nil), i.cache...)
    }
    matches, err := filepath.Glob(i.opts.Path)
    if err != nil || len(matches) == 0 {
        // keep serving the last good read
        return append([]string(nil), i.cache...)
    }
    var all []string
    for _, m := range matches { all = append(all, i.load(m)...) }
    i.cache = discovery.Normalize(all...)
    i.last = now
    return append([]string(nil), i.cache...)
}

func (i *impl) load(path string) []string {
    f, err := os.Open(path)
    if err != nil {
        logutil.Warnf(i.opts.Logger, "discovery: open %s: %v", path, err)
        return nil
    }
    defer f.Close()
    var lines []string
    s := bufio.NewScanner(f)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        lines = append(lines, line)
    }
    if err := s.Err(); err != nil {
        logutil.Warnf(i.opts.Logger, "discovery: read %s: %v", path, err)
        return nil
    }
    return discovery.Normalize(lines...)
}
