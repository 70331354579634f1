// Package debug configures the process logger and provides category-gated
// debug output for toolgate.
//
// Categories select which subsystems talk (TOOLGATE_DEBUG=providers,http).
// The level selects how much they say (TOOLGATE_LOG_LEVEL=trace). At trace
// level, protocol frames and HTTP bodies are written untruncated.
//
//	debug.Log("providers", "spawned", "provider", name, "pid", pid)
//	if debug.Enabled("http") { ... }
//
// Categories: providers, protocol, http, catalog, reload, config, server, all.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// Options configures Setup. Environment variables win over the fields.
type Options struct {
	Categories string // comma-separated
	Level      string // trace, debug, info, warn, error
	Format     string // text or json
	Output     io.Writer
}

type state struct {
	categories map[string]bool
	out        io.Writer
}

var current atomic.Pointer[state]

func init() {
	current.Store(&state{categories: parseCategories(os.Getenv("TOOLGATE_DEBUG")), out: os.Stderr})
}

// Setup installs the default slog logger and the enabled categories, and
// returns the logger.
func Setup(opts Options) *slog.Logger {
	cats := opts.Categories
	if v := os.Getenv("TOOLGATE_DEBUG"); v != "" {
		cats = v
	}
	level := opts.Level
	if v := os.Getenv("TOOLGATE_LOG_LEVEL"); v != "" {
		level = v
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(level), ReplaceAttr: levelNames}
	var handler slog.Handler = slog.NewTextHandler(out, hopts)
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	current.Store(&state{categories: parseCategories(cats), out: out})
	return logger
}

// levelNames prints LevelTrace as TRACE instead of DEBUG-4.
func levelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Enabled reports whether category is switched on.
func Enabled(category string) bool {
	c := current.Load().categories
	return c["all"] || c[category]
}

// Log emits a debug record tagged with category when it is enabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace record tagged with category when it is enabled.
func Trace(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether category is on and the logger accepts
// trace records.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes text unformatted to the log output, for copy-paste-ready
// frames and bodies. Trace level only.
func Raw(category, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(current.Load().out, text)
}

// ParseLevel maps a level name to a slog.Level. Unknown names give info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories lists the enabled categories, sorted.
func Categories() []string {
	c := current.Load().categories
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Truncate shortens s to max bytes, marking the cut with "...".
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}
