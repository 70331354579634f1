package mcp

import (
	"os"
	"sort"
	"strings"
	"time"
)

// Default timing values.
const (
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultCallTimeout          = 30 * time.Second
	DefaultGracePeriod          = 2 * time.Second
	DefaultTimeoutFlagThreshold = 3
)

// ProtocolVersion is the MCP revision requested during the handshake.
const ProtocolVersion = "2025-06-18"

// ServerConfig describes a single process provider.
type ServerConfig struct {
	// Name is the provider name, used for logging and error reports.
	Name string

	// Command is the executable to spawn.
	Command string

	// Args are passed to Command.
	Args []string

	// Env is overlaid on the host environment.
	Env map[string]string

	// Dir is the working directory of the child. Empty means the
	// current directory.
	Dir string
}

// Options tunes session timing.
type Options struct {
	// HandshakeTimeout bounds the initialize exchange.
	HandshakeTimeout time.Duration

	// CallTimeout bounds each request when the caller's context has no
	// earlier deadline.
	CallTimeout time.Duration

	// GracePeriod is how long Close waits after each shutdown step
	// (stdin close, SIGTERM) before escalating.
	GracePeriod time.Duration

	// TimeoutFlagThreshold is the number of consecutive call timeouts
	// after which the provider is reported as flagged.
	TimeoutFlagThreshold int

	// ClientName and ClientVersion identify toolgate in the handshake.
	ClientName    string
	ClientVersion string

	// OnClosed is called once when the session ends for any reason.
	OnClosed func(name string, err error)
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.TimeoutFlagThreshold <= 0 {
		o.TimeoutFlagThreshold = DefaultTimeoutFlagThreshold
	}
	if o.ClientName == "" {
		o.ClientName = "toolgate"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "1.0.0"
	}
	return o
}

// mergeEnv overlays env on the host environment. Overlay keys replace
// host entries; overlay entries are appended in sorted order.
func mergeEnv(env map[string]string) []string {
	base := os.Environ()
	if len(env) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := env[k]; !overridden {
			out = append(out, kv)
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
