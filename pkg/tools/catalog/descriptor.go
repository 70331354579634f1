package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/credentials"
)

// ProviderDescriptor is one configured tool provider. Descriptors are
// immutable after load; a reload produces a fresh set.
type ProviderDescriptor struct {
	Name        string             `json:"name"`
	Kind        tools.ProviderKind `json:"kind"`
	Enabled     bool               `json:"enabled"`
	Description string             `json:"description,omitempty"`

	// Process providers.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// AllowedTools restricts which discovered tools are published. Empty
	// means all.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	// HTTP providers.
	HTTP *HTTPSpec `json:"http,omitempty"`
}

// HTTPSpec describes a manifest-driven HTTP tool.
type HTTPSpec struct {
	URL    string `json:"url"`
	Method string `json:"method"`

	// ParamMapping maps an argument name to a request target:
	// "query.<name>", "path.<name>", "header.<name>", "body.<name>" or a
	// bare name.
	ParamMapping map[string]string `json:"parameter_mapping,omitempty"`

	Auth    *credentials.Config  `json:"authentication,omitempty"`
	Tool    tools.ToolDefinition `json:"tool"`
	Timeout time.Duration        `json:"timeout,omitempty"`
}

// Fingerprint returns a stable hash of the descriptor. Two descriptors
// with equal fingerprints are interchangeable, which lets reload leave
// unchanged providers connected.
func (d *ProviderDescriptor) Fingerprint() string {
	// encoding/json sorts map keys, so the encoding is canonical.
	data, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
