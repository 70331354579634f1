package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/credentials"
	"github.com/rhuss/toolgate/pkg/tools/schema"
)

// LoadResult is the outcome of parsing a provider catalog.
type LoadResult struct {
	// Providers holds every entry that parsed cleanly, sorted by name.
	// Disabled entries are included with Enabled=false.
	Providers []ProviderDescriptor

	// Skipped holds one error per entry that was rejected.
	Skipped []*ConfigError

	// Warnings are non-fatal notes such as unset ${VAR} placeholders.
	Warnings []string
}

// Enabled returns the enabled providers.
func (r *LoadResult) Enabled() []ProviderDescriptor {
	var out []ProviderDescriptor
	for _, p := range r.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Loader parses provider catalogs.
type Loader struct {
	// Auth validates authentication blocks. When nil, a registry with the
	// built-in strategies is used.
	Auth *credentials.Registry

	// Lookup resolves ${VAR} placeholders. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)

	// BaseDir resolves relative manifest paths. LoadFile sets it to the
	// directory of the loaded file.
	BaseDir string
}

type rawEntry struct {
	Type        string            `yaml:"type"`
	Description string            `yaml:"description"`
	Enabled     *bool             `yaml:"enabled"`
	Disabled    bool              `yaml:"disabled"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`

	AllowedTools []string `yaml:"allowed_tools"`

	URL              string              `yaml:"url"`
	Method           string              `yaml:"method"`
	ParameterMapping map[string]string   `yaml:"parameter_mapping"`
	Authentication   *credentials.Config `yaml:"authentication"`
	Timeout          time.Duration       `yaml:"timeout"`
	Tool             *rawTool            `yaml:"tool"`
	Manifest         string              `yaml:"manifest"`
}

type rawTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"input_schema"`
}

// manifest is the plugin manifest file format for HTTP tools.
type manifest struct {
	NameForModel        string         `yaml:"name_for_model"`
	DescriptionForModel string         `yaml:"description_for_model"`
	InputSchema         map[string]any `yaml:"input_schema"`
	Execution           struct {
		Type             string              `yaml:"type"`
		URL              string              `yaml:"url"`
		Method           string              `yaml:"method"`
		ParameterMapping map[string]string   `yaml:"parameter_mapping"`
		Authentication   *credentials.Config `yaml:"authentication"`
	} `yaml:"execution"`
}

type section struct {
	key         string
	defaultKind tools.ProviderKind
}

var sections = []section{
	{key: "mcpServers", defaultKind: tools.KindProcess},
	{key: "providers"},
}

// LoadFile reads and parses the catalog at path.
func (l *Loader) LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalog: %w", err)
	}
	ll := *l
	if ll.BaseDir == "" {
		ll.BaseDir = filepath.Dir(path)
	}
	return ll.Load(data)
}

// Load parses a YAML or JSON provider catalog. It returns an error only
// when the document cannot be parsed at all or when a provider name is
// declared more than once.
func (l *Loader) Load(raw []byte) (*LoadResult, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Kind: Parse, Cause: err}
	}

	result := &LoadResult{}
	if len(doc.Content) == 0 {
		return result, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ConfigError{Kind: Parse, Detail: "catalog root must be a mapping"}
	}

	seen := make(map[string]string)
	for _, sec := range sections {
		entries := mappingValue(root, sec.key)
		if entries == nil {
			continue
		}
		if entries.Kind != yaml.MappingNode {
			return nil, &ConfigError{Kind: Parse, Field: sec.key, Detail: "must be a mapping of provider name to entry"}
		}
		for i := 0; i+1 < len(entries.Content); i += 2 {
			name := entries.Content[i].Value
			if prev, dup := seen[name]; dup {
				return nil, &ConfigError{
					Kind:     DuplicateName,
					Provider: name,
					Detail:   fmt.Sprintf("declared in both %s and %s", prev, sec.key),
				}
			}
			seen[name] = sec.key

			desc, warnings, err := l.parseEntry(name, entries.Content[i+1], sec.defaultKind)
			for _, w := range warnings {
				slog.Warn("provider catalog warning", "provider", name, "warning", w)
				result.Warnings = append(result.Warnings, w)
			}
			if err != nil {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					ce = &ConfigError{Kind: InvalidValue, Provider: name, Cause: err}
				}
				slog.Warn("skipping provider entry", "provider", name, "kind", ce.Kind, "error", ce.Error())
				result.Skipped = append(result.Skipped, ce)
				continue
			}
			debug.Log("catalog", "provider entry loaded", "provider", name, "kind", desc.Kind, "enabled", desc.Enabled)
			result.Providers = append(result.Providers, *desc)
		}
	}

	sort.Slice(result.Providers, func(i, j int) bool {
		return result.Providers[i].Name < result.Providers[j].Name
	})
	return result, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func (l *Loader) lookup() func(string) (string, bool) {
	if l.Lookup != nil {
		return l.Lookup
	}
	return os.LookupEnv
}

func (l *Loader) registry() *credentials.Registry {
	if l.Auth != nil {
		return l.Auth
	}
	return credentials.Default(nil)
}

func (l *Loader) parseEntry(name string, node *yaml.Node, defaultKind tools.ProviderKind) (*ProviderDescriptor, []string, error) {
	if name == "" {
		return nil, nil, &ConfigError{Kind: MissingField, Field: "name"}
	}

	var entry rawEntry
	if err := node.Decode(&entry); err != nil {
		return nil, nil, &ConfigError{Kind: InvalidValue, Provider: name, Cause: err}
	}

	kind, err := resolveKind(entry.Type, defaultKind)
	if err != nil {
		return nil, nil, &ConfigError{Kind: UnknownKind, Provider: name, Field: "type", Detail: err.Error()}
	}

	ip := &interpolator{lookup: l.lookup()}
	desc := &ProviderDescriptor{
		Name:         name,
		Kind:         kind,
		Enabled:      !entry.Disabled && (entry.Enabled == nil || *entry.Enabled),
		Description:  entry.Description,
		AllowedTools: entry.AllowedTools,
	}

	switch kind {
	case tools.KindProcess:
		err = l.parseProcess(desc, &entry, ip)
	case tools.KindHTTP:
		err = l.parseHTTP(desc, &entry, ip)
	}

	var warnings []string
	for _, v := range ip.missing {
		warnings = append(warnings, fmt.Sprintf("provider %q: environment variable %s is not set, using empty value", name, v))
	}
	if err != nil {
		return nil, warnings, err
	}
	return desc, warnings, nil
}

func resolveKind(t string, def tools.ProviderKind) (tools.ProviderKind, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "":
		if def == "" {
			return "", fmt.Errorf("type is required")
		}
		return def, nil
	case "process", "local_command", "stdio":
		return tools.KindProcess, nil
	case "http", "http_request":
		return tools.KindHTTP, nil
	default:
		return "", fmt.Errorf("unsupported provider type %q", t)
	}
}

func (l *Loader) parseProcess(desc *ProviderDescriptor, entry *rawEntry, ip *interpolator) error {
	desc.Command = ip.expand(strings.TrimSpace(entry.Command))
	if desc.Command == "" {
		return &ConfigError{Kind: MissingField, Provider: desc.Name, Field: "command"}
	}
	desc.Args = ip.expandAll(entry.Args)
	desc.Env = ip.expandMap(entry.Env)
	return nil
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true,
}

func (l *Loader) parseHTTP(desc *ProviderDescriptor, entry *rawEntry, ip *interpolator) error {
	name := desc.Name

	if entry.Manifest != "" {
		if err := l.mergeManifest(entry); err != nil {
			return &ConfigError{Kind: InvalidValue, Provider: name, Field: "manifest", Cause: err}
		}
	}

	if entry.Tool == nil || entry.Tool.Name == "" {
		return &ConfigError{Kind: MissingField, Provider: name, Field: "tool.name"}
	}

	rawURL := ip.expand(strings.TrimSpace(entry.URL))
	if rawURL == "" {
		return &ConfigError{Kind: MissingField, Provider: name, Field: "url"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Kind: InvalidValue, Provider: name, Field: "url", Detail: fmt.Sprintf("%q is not an absolute http(s) URL", rawURL)}
	}

	method := strings.ToUpper(strings.TrimSpace(entry.Method))
	if method == "" {
		method = "GET"
	}
	if !validMethods[method] {
		return &ConfigError{Kind: InvalidValue, Provider: name, Field: "method", Detail: fmt.Sprintf("unsupported method %q", entry.Method)}
	}

	if auth := entry.Authentication; auth != nil {
		if err := l.registry().Validate(*auth); err != nil {
			var ae *credentials.AuthError
			if errors.As(err, &ae) && ae.Kind == credentials.UnknownType {
				return &ConfigError{Kind: UnknownAuthType, Provider: name, Field: "authentication.type", Detail: fmt.Sprintf("%q is not registered", auth.Type)}
			}
			return &ConfigError{Kind: InvalidValue, Provider: name, Field: "authentication", Cause: err}
		}
		if auth.TokenURL != "" {
			auth.TokenURL = ip.expand(auth.TokenURL)
		}
	}

	for arg, target := range entry.ParameterMapping {
		if !validTarget(target) {
			return &ConfigError{Kind: InvalidValue, Provider: name, Field: "parameter_mapping." + arg, Detail: fmt.Sprintf("unsupported target %q", target)}
		}
	}

	inputSchema := entry.Tool.InputSchema
	if inputSchema == nil {
		inputSchema = map[string]any{"type": "object"}
	} else if _, ok := inputSchema["type"]; !ok {
		inputSchema["type"] = "object"
	}
	if _, err := schema.Compile(inputSchema); err != nil {
		return &ConfigError{Kind: InvalidValue, Provider: name, Field: "tool.input_schema", Cause: err}
	}

	description := entry.Tool.Description
	if description == "" {
		description = desc.Description
	}
	if description == "" {
		description = fmt.Sprintf("Tool %s from %s", entry.Tool.Name, name)
	}

	desc.HTTP = &HTTPSpec{
		URL:          rawURL,
		Method:       method,
		ParamMapping: entry.ParameterMapping,
		Auth:         entry.Authentication,
		Timeout:      entry.Timeout,
		Tool: tools.ToolDefinition{
			Name:        entry.Tool.Name,
			Description: description,
			InputSchema: inputSchema,
		},
	}
	return nil
}

// mergeManifest loads a manifest file and fills entry fields that the
// catalog entry itself leaves empty.
func (l *Loader) mergeManifest(entry *rawEntry) error {
	path := entry.Manifest
	if !filepath.IsAbs(path) && l.BaseDir != "" {
		path = filepath.Join(l.BaseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if m.Execution.Type != "" && m.Execution.Type != "http_request" {
		return fmt.Errorf("manifest %s: unsupported execution type %q", path, m.Execution.Type)
	}

	if entry.Tool == nil {
		entry.Tool = &rawTool{}
	}
	if entry.Tool.Name == "" {
		entry.Tool.Name = m.NameForModel
	}
	if entry.Tool.Description == "" {
		entry.Tool.Description = m.DescriptionForModel
	}
	if entry.Tool.InputSchema == nil {
		entry.Tool.InputSchema = m.InputSchema
	}
	if entry.URL == "" {
		entry.URL = m.Execution.URL
	}
	if entry.Method == "" {
		entry.Method = m.Execution.Method
	}
	if entry.ParameterMapping == nil {
		entry.ParameterMapping = m.Execution.ParameterMapping
	}
	if entry.Authentication == nil {
		entry.Authentication = m.Execution.Authentication
	}
	return nil
}

func validTarget(target string) bool {
	loc, field, ok := strings.Cut(target, ".")
	if !ok {
		return target != ""
	}
	switch loc {
	case "query", "path", "header", "body":
		return field != ""
	}
	return false
}
