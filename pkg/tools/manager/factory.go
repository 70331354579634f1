package manager

import (
	"fmt"

	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/catalog"
	"github.com/rhuss/toolgate/pkg/tools/httptool"
	"github.com/rhuss/toolgate/pkg/tools/mcp"
)

// Factory creates an unconnected adapter for a provider descriptor.
type Factory interface {
	New(desc catalog.ProviderDescriptor) (tools.Adapter, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(desc catalog.ProviderDescriptor) (tools.Adapter, error)

// New calls f(desc).
func (f FactoryFunc) New(desc catalog.ProviderDescriptor) (tools.Adapter, error) {
	return f(desc)
}

// AdapterFactory builds the process and HTTP adapters.
type AdapterFactory struct {
	MCP  mcp.Options
	HTTP httptool.Options

	// Dir is the working directory for process providers.
	Dir string
}

// New returns an mcp.Client for process providers and an
// httptool.Adapter for HTTP providers.
func (f *AdapterFactory) New(desc catalog.ProviderDescriptor) (tools.Adapter, error) {
	switch desc.Kind {
	case tools.KindProcess:
		return mcp.NewClient(mcp.ServerConfig{
			Name:    desc.Name,
			Command: desc.Command,
			Args:    desc.Args,
			Env:     desc.Env,
			Dir:     f.Dir,
		}, f.MCP), nil
	case tools.KindHTTP:
		return httptool.NewAdapter(&desc, f.HTTP)
	default:
		return nil, fmt.Errorf("provider %q: unsupported kind %q", desc.Name, desc.Kind)
	}
}
