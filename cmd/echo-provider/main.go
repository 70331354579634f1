// Command echo-provider is a stdio MCP provider for trying out toolgate.
// It exposes "echo" and "get_time" tools and logs to stderr, which
// toolgate forwards to its "providers" debug category.
//
// Register it in a provider catalog:
//
//	{"mcpServers": {"demo": {"command": "echo-provider"}}}
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// EchoInput is the argument object of the echo tool.
type EchoInput struct {
	Text  string `json:"text" jsonschema:"the text to echo back"`
	Upper bool   `json:"upper,omitempty" jsonschema:"return the text in upper case"`
}

// TimeInput is the argument object of the get_time tool.
type TimeInput struct {
	Zone string `json:"zone,omitempty" jsonschema:"IANA time zone, default UTC"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	server := mcp.NewServer(
		&mcp.Implementation{Name: "toolgate-echo-provider", Version: "v1.0.0"},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided text back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input EchoInput) (*mcp.CallToolResult, any, error) {
		logger.Info("echo called", "bytes", len(input.Text))
		text := input.Text
		if input.Upper {
			text = strings.ToUpper(text)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_time",
		Description: "Returns the current time",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input TimeInput) (*mcp.CallToolResult, any, error) {
		loc := time.UTC
		if input.Zone != "" {
			l, err := time.LoadLocation(input.Zone)
			if err != nil {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("unknown time zone %q", input.Zone)}},
				}, nil, nil
			}
			loc = l
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: time.Now().In(loc).Format(time.RFC3339)},
			},
		}, nil, nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("echo provider serving on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
