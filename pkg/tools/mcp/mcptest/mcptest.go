// Package mcptest turns a test binary into a stdio MCP provider so that
// process transport tests can spawn real child processes without
// building separate executables.
//
// A test package opts in from TestMain:
//
//	func TestMain(m *testing.M) {
//		mcptest.ServeIfProvider()
//		os.Exit(m.Run())
//	}
//
// and spawns providers with Command:
//
//	cmd, args, env := mcptest.Command(mcptest.ModeEcho)
package mcptest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// EnvMode selects the provider behavior of a re-executed test binary.
const EnvMode = "TOOLGATE_TEST_PROVIDER"

// Provider modes.
const (
	// ModeEcho serves echo, slow and fail tools with the MCP SDK server.
	ModeEcho = "echo"

	// ModeScripted is a hand-written server that misbehaves on request:
	// the echo tool's text argument selects the behavior (see scripted).
	ModeScripted = "scripted"

	// ModeSilent reads stdin but never answers.
	ModeSilent = "silent"

	// ModeExit exits before the handshake.
	ModeExit = "exit"

	// ModeEmpty completes the handshake and exposes no tools.
	ModeEmpty = "empty"
)

// Command returns the command line that re-executes the current test
// binary as a provider in the given mode.
func Command(mode string) (string, []string, map[string]string) {
	return os.Args[0], []string{"-test.run=^$"}, map[string]string{EnvMode: mode}
}

// ServeIfProvider serves and exits when the process was started by
// Command. It returns immediately in a normal test run.
func ServeIfProvider() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(serve(mode))
}

func serve(mode string) int {
	switch mode {
	case ModeEcho:
		return serveSDK(true)
	case ModeEmpty:
		return serveSDK(false)
	case ModeScripted:
		return scripted(os.Stdin, os.Stdout)
	case ModeSilent:
		_, _ = io.Copy(io.Discard, os.Stdin)
		return 0
	case ModeExit:
		fmt.Fprintln(os.Stderr, "fixture: exiting before handshake")
		return 3
	default:
		fmt.Fprintf(os.Stderr, "fixture: unknown mode %q\n", mode)
		return 2
	}
}

// EchoSchema is the input schema of the echo tool.
var EchoSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{"type": "string", "description": "Text to echo back"},
	},
	"required": []any{"text"},
}

func serveSDK(withTools bool) int {
	server := mcp.NewServer(&mcp.Implementation{Name: "fixture", Version: "1.0.0"}, &mcp.ServerOptions{
		Capabilities: &mcp.ServerCapabilities{Tools: &mcp.ToolCapabilities{}},
	})
	if withTools {
		server.AddTool(&mcp.Tool{
			Name:        "echo",
			Description: "Echo the arguments back",
			InputSchema: EchoSchema,
		}, echo)
		server.AddTool(&mcp.Tool{
			Name:        "slow",
			Description: "Sleep for ms milliseconds, then answer",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"ms": map[string]any{"type": "integer"}},
			},
		}, slow)
		server.AddTool(&mcp.Tool{
			Name:        "fail",
			Description: "Report a tool-level error",
			InputSchema: map[string]any{"type": "object"},
		}, fail)
	}
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "fixture: %v\n", err)
		return 1
	}
	return 0
}

func echo(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args map[string]any
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
	}
	text, _ := args["text"].(string)
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: args,
	}, nil
}

func slow(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		MS int `json:"ms"`
	}
	_ = json.Unmarshal(req.Params.Arguments, &args)
	select {
	case <-time.After(time.Duration(args.MS) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "done"}}}, nil
}

func fail(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "upstream quota exhausted"}},
		IsError: true,
	}, nil
}

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// scripted is a minimal line-oriented MCP server. Calls to its echo tool
// behave according to the text argument:
//
//	"noise"       write a non-JSON line, then answer normally
//	"malformed"   answer with a result that is not a CallToolResult
//	"bad-version" answer with a wrong jsonrpc version tag
//	"ping-me"     ping the client first and answer "pong" once it replies
//	"crash"       exit without answering
//
// Anything else is echoed back.
func scripted(in io.Reader, out io.Writer) int {
	enc := json.NewEncoder(out)
	write := func(v any) { _ = enc.Encode(v) }
	respond := func(id json.RawMessage, result any) {
		raw, _ := json.Marshal(result)
		write(wireMessage{JSONRPC: "2.0", ID: id, Result: raw})
	}
	text := func(s string) map[string]any {
		return map[string]any{"content": []any{map[string]any{"type": "text", "text": s}}}
	}

	var pingWaiter json.RawMessage
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var msg wireMessage
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Method {
		case "initialize":
			respond(msg.ID, map[string]any{
				"protocolVersion": "2025-06-18",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "scripted", "version": "0.0.1"},
			})
		case "tools/list":
			respond(msg.ID, map[string]any{"tools": []any{
				map[string]any{"name": "echo", "inputSchema": EchoSchema},
			}})
		case "tools/call":
			var p struct {
				Arguments map[string]any `json:"arguments"`
			}
			_ = json.Unmarshal(msg.Params, &p)
			arg, _ := p.Arguments["text"].(string)
			switch arg {
			case "noise":
				fmt.Fprintln(out, "this line is not json")
				respond(msg.ID, text(arg))
			case "malformed":
				write(wireMessage{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage(`"not an object"`)})
			case "bad-version":
				write(wireMessage{JSONRPC: "1.0", ID: msg.ID, Result: json.RawMessage(`{}`)})
			case "ping-me":
				pingWaiter = msg.ID
				write(wireMessage{JSONRPC: "2.0", ID: json.RawMessage(`"srv-1"`), Method: "ping"})
			case "crash":
				return 4
			default:
				respond(msg.ID, text(arg))
			}
		case "":
			// A response to our ping.
			if string(msg.ID) == `"srv-1"` && pingWaiter != nil && msg.Result != nil {
				respond(pingWaiter, text("pong"))
				pingWaiter = nil
			}
		}
	}
	return 0
}
