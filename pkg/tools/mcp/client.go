package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/tools"
)

// State is the session state of a Client.
type State int32

const (
	Unconnected State = iota
	Connecting
	Ready
	ToolsDiscovered
	Closing
	Closed
)

var stateNames = [...]string{"unconnected", "connecting", "ready", "tools_discovered", "closing", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodListTools   = "tools/list"
	methodCallTool    = "tools/call"
	methodCancelled   = "notifications/cancelled"
	methodPing        = "ping"

	// maxListPages bounds tools/list pagination against a provider that
	// keeps returning a cursor.
	maxListPages = 100
)

var errSessionClosed = errors.New("session closed")

// Client is a process adapter: one child process and one MCP session
// over its standard streams.
type Client struct {
	cfg  ServerConfig
	opts Options

	state atomic.Int32
	pid   atomic.Int64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *stderrLog

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan reply
	closed   bool
	closeErr error

	readerDone chan struct{}
	exited     chan struct{}
	waitErr    error
	stopOnce   sync.Once

	inflight atomic.Int32
	timeouts atomic.Int32

	serverInfo *mcp.Implementation
}

type reply struct {
	resp *jsonrpc.Response
	err  error
}

var (
	_ tools.Adapter        = (*Client)(nil)
	_ tools.HealthReporter = (*Client)(nil)
)

// NewClient creates a Client for cfg. Call Connect to spawn the process.
func NewClient(cfg ServerConfig, opts Options) *Client {
	return &Client{
		cfg:     cfg,
		opts:    opts.withDefaults(),
		pending: make(map[int64]chan reply),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.cfg.Name }

// Kind returns tools.KindProcess.
func (c *Client) Kind() tools.ProviderKind { return tools.KindProcess }

// State returns the current session state.
func (c *Client) State() State { return State(c.state.Load()) }

// PID returns the child process id, or zero before Connect.
func (c *Client) PID() int { return int(c.pid.Load()) }

// ServerInfo returns the implementation details reported by the
// provider during the handshake.
func (c *Client) ServerInfo() *mcp.Implementation { return c.serverInfo }

// Connect spawns the child process and performs the MCP handshake.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Unconnected), int32(Connecting)) {
		return fmt.Errorf("mcp provider %q: connect called in state %s", c.cfg.Name, c.State())
	}

	if err := c.spawn(); err != nil {
		perr := &tools.ProviderError{Kind: tools.ConnectFailed, Provider: c.cfg.Name, Cause: err}
		c.finish(perr)
		return perr
	}

	if err := c.handshake(ctx); err != nil {
		c.mu.Lock()
		if !c.closed {
			c.closeErr = err
		}
		c.mu.Unlock()
		c.state.CompareAndSwap(int32(Connecting), int32(Closing))
		c.stop()
		c.finish(err)
		return err
	}

	c.state.CompareAndSwap(int32(Connecting), int32(Ready))
	name := ""
	if c.serverInfo != nil {
		name = c.serverInfo.Name
	}
	slog.Info("mcp provider connected", "provider", c.cfg.Name, "pid", c.PID(), "server", name)
	return nil
}

func (c *Client) spawn() error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = mergeEnv(c.cfg.Env)
	cmd.Dir = c.cfg.Dir
	c.stderr = &stderrLog{provider: c.cfg.Name}
	cmd.Stderr = c.stderr
	cmd.WaitDelay = c.opts.GracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.cfg.Command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.pid.Store(int64(cmd.Process.Pid))
	c.readerDone = make(chan struct{})
	c.exited = make(chan struct{})

	debug.Log("providers", "mcp provider spawned", "provider", c.cfg.Name, "pid", cmd.Process.Pid, "command", c.cfg.Command)

	go c.readLoop(stdout)
	go c.waitLoop()
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	params := &mcp.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      &mcp.Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
		Capabilities:    &mcp.ClientCapabilities{},
	}
	var res mcp.InitializeResult
	if err := c.call(hctx, methodInitialize, params, &res); err != nil {
		if tools.KindOf(err) == tools.Timeout {
			return &tools.ProviderError{Kind: tools.HandshakeTimeout, Provider: c.cfg.Name, Cause: err}
		}
		return &tools.ProviderError{Kind: tools.ConnectFailed, Provider: c.cfg.Name, Cause: err}
	}
	c.serverInfo = res.ServerInfo
	debug.Log("protocol", "handshake complete", "provider", c.cfg.Name, "protocol_version", res.ProtocolVersion)

	if err := c.notify(methodInitialized, &mcp.InitializedParams{}); err != nil {
		return &tools.ProviderError{Kind: tools.ConnectFailed, Provider: c.cfg.Name, Cause: err}
	}
	return nil
}

// Discover lists the provider's tools, following pagination cursors.
func (c *Client) Discover(ctx context.Context) ([]tools.ToolDefinition, error) {
	if st := c.State(); st != Ready && st != ToolsDiscovered {
		return nil, c.notReady()
	}
	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()

	var defs []tools.ToolDefinition
	cursor := ""
	for page := 0; page < maxListPages; page++ {
		var res mcp.ListToolsResult
		if err := c.call(ctx, methodListTools, &mcp.ListToolsParams{Cursor: cursor}, &res); err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		for _, t := range res.Tools {
			if t == nil || t.Name == "" {
				continue
			}
			defs = append(defs, convertTool(t))
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	c.state.CompareAndSwap(int32(Ready), int32(ToolsDiscovered))
	if len(defs) == 0 {
		slog.Info("mcp provider exposes no tools", "provider", c.cfg.Name)
	}
	return defs, nil
}

// Invoke calls a tool. Concurrent calls are multiplexed over the one
// session by request id.
func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any) (*tools.ToolResult, error) {
	if st := c.State(); st != Ready && st != ToolsDiscovered {
		return nil, c.notReady().WithTool(tool, c.cfg.Name)
	}
	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()

	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	if args == nil {
		args = map[string]any{}
	}
	var res mcp.CallToolResult
	if err := c.call(ctx, methodCallTool, &mcp.CallToolParams{Name: tool, Arguments: args}, &res); err != nil {
		var ie *tools.InvokeError
		if errors.As(err, &ie) {
			if ie.Kind == tools.Timeout {
				c.recordTimeout()
			}
			return nil, ie.WithTool(tool, c.cfg.Name)
		}
		return nil, err
	}
	c.timeouts.Store(0)
	return convertResult(&res), nil
}

// Close shuts the session down: it closes stdin, waits for the grace
// period, then escalates to SIGTERM and finally SIGKILL. The child is
// always reaped. If ctx expires first, the child is killed immediately.
func (c *Client) Close(ctx context.Context) error {
	for {
		st := c.State()
		if st == Closed || st == Closing {
			break
		}
		if c.state.CompareAndSwap(int32(st), int32(Closing)) {
			break
		}
	}
	if c.cmd == nil {
		c.finish(errSessionClosed)
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.kill()
		c.finish(errSessionClosed)
		return fmt.Errorf("closing mcp provider %q: %w", c.cfg.Name, ctx.Err())
	}

	c.finish(errSessionClosed)
	debug.Log("providers", "mcp provider closed", "provider", c.cfg.Name, "exit", c.exitErr())
	return nil
}

// exitErr returns the child's exit status once it has been reaped.
func (c *Client) exitErr() error {
	select {
	case <-c.exited:
		return c.waitErr
	default:
		return nil
	}
}

// Health reports the session state.
func (c *Client) Health() tools.Health {
	c.mu.Lock()
	var last string
	if c.closeErr != nil && !errors.Is(c.closeErr, errSessionClosed) {
		last = c.closeErr.Error()
	}
	c.mu.Unlock()

	n := int(c.timeouts.Load())
	return tools.Health{
		State:               c.State().String(),
		PID:                 c.PID(),
		InFlight:            int(c.inflight.Load()),
		ConsecutiveTimeouts: n,
		Flagged:             n >= c.opts.TimeoutFlagThreshold,
		LastError:           last,
	}
}

func (c *Client) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.CallTimeout)
}

func (c *Client) recordTimeout() {
	n := int(c.timeouts.Add(1))
	if n == c.opts.TimeoutFlagThreshold {
		slog.Warn("mcp provider flagged after consecutive timeouts", "provider", c.cfg.Name, "timeouts", n)
	}
}

func (c *Client) notReady() *tools.InvokeError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.unavailableLocked()
	}
	return &tools.InvokeError{
		Kind:     tools.ProviderUnavailable,
		Provider: c.cfg.Name,
		Message:  "session is " + c.State().String(),
	}
}

func (c *Client) unavailableLocked() *tools.InvokeError {
	return &tools.InvokeError{
		Kind:     tools.ProviderUnavailable,
		Provider: c.cfg.Name,
		Message:  "provider session closed",
		Cause:    c.closeErr,
	}
}

// call sends a request and waits for its correlated response.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.closed {
		err := c.unavailableLocked()
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}
	jid, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return err
	}
	if err := c.writeMessage(&jsonrpc.Request{ID: jid, Method: method, Params: raw}); err != nil {
		return &tools.InvokeError{
			Kind:     tools.ProviderUnavailable,
			Provider: c.cfg.Name,
			Message:  "writing " + method + " request",
			Cause:    err,
		}
	}

	select {
	case r := <-ch:
		return c.decodeReply(method, r, out)
	case <-ctx.Done():
		if method != methodInitialize {
			c.cancelRemote(id, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &tools.InvokeError{
				Kind:     tools.Timeout,
				Provider: c.cfg.Name,
				Message:  method + " timed out",
				Cause:    ctx.Err(),
			}
		}
		return fmt.Errorf("%s on provider %q: %w", method, c.cfg.Name, ctx.Err())
	}
}

func (c *Client) decodeReply(method string, r reply, out any) error {
	if r.err != nil {
		return r.err
	}
	if r.resp.Error != nil {
		var we *jsonrpc.Error
		if errors.As(r.resp.Error, &we) {
			return &tools.InvokeError{
				Kind:     tools.RemoteError,
				Provider: c.cfg.Name,
				Status:   int(we.Code),
				Message:  we.Message,
			}
		}
		return &tools.InvokeError{Kind: tools.RemoteError, Provider: c.cfg.Name, Message: r.resp.Error.Error()}
	}
	if out != nil {
		if err := json.Unmarshal(r.resp.Result, out); err != nil {
			return &tools.InvokeError{
				Kind:     tools.ProtocolError,
				Provider: c.cfg.Name,
				Message:  "decoding " + method + " result",
				Cause:    err,
			}
		}
	}
	return nil
}

func (c *Client) notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}
	return c.writeMessage(&jsonrpc.Request{Method: method, Params: raw})
}

func (c *Client) cancelRemote(id int64, reason error) {
	err := c.notify(methodCancelled, &mcp.CancelledParams{RequestID: id, Reason: reason.Error()})
	if err != nil {
		debug.Log("protocol", "sending cancellation failed", "provider", c.cfg.Name, "id", id, "error", err)
	}
}

func (c *Client) writeMessage(msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	debug.Trace("protocol", "send", "provider", c.cfg.Name, "message", string(data))
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return errSessionClosed
	}
	_, err = c.stdin.Write(data)
	return err
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// deliver routes a reply to the pending call with the given id. It
// reports whether such a call existed.
func (c *Client) deliver(id int64, r reply) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		debug.Log("protocol", "dropping response for unknown request", "provider", c.cfg.Name, "id", id)
		return false
	}
	ch <- r
	return true
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.readerDone)

	br := bufio.NewReaderSize(r, 64<<10)
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			var cause error = errSessionClosed
			if c.State() != Closing {
				cause = &tools.ProviderError{
					Kind:     tools.ProcessExited,
					Provider: c.cfg.Name,
					Cause:    fmt.Errorf("provider output closed: %w", err),
				}
			}
			c.finish(cause)
			return
		}
	}
}

func (c *Client) waitLoop() {
	<-c.readerDone
	c.waitErr = c.cmd.Wait()
	close(c.exited)
}

func (c *Client) handleLine(line []byte) {
	debug.Trace("protocol", "recv", "provider", c.cfg.Name, "message", string(line))

	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		c.malformed(line, err)
		return
	}

	switch m := msg.(type) {
	case *jsonrpc.Response:
		id, ok := m.ID.Raw().(int64)
		if !ok {
			debug.Log("protocol", "dropping response with foreign id", "provider", c.cfg.Name, "id", m.ID.Raw())
			return
		}
		c.deliver(id, reply{resp: m})
	case *jsonrpc.Request:
		c.handleRequest(m)
	}
}

// malformed surfaces an undecodable line to the pending call it belongs
// to, if an id can be recovered, and otherwise logs and drops it.
func (c *Client) malformed(line []byte, cause error) {
	perr := &tools.InvokeError{
		Kind:     tools.ProtocolError,
		Provider: c.cfg.Name,
		Message:  "malformed message from provider",
		Cause:    cause,
	}
	if id, ok := peekID(line); ok && c.deliver(id, reply{err: perr}) {
		return
	}
	slog.Warn("dropping malformed message from mcp provider",
		"provider", c.cfg.Name,
		"error", cause,
		"line", debug.Truncate(strings.TrimSpace(string(line)), 200),
	)
}

func peekID(line []byte) (int64, bool) {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(line, &head); err != nil || len(head.ID) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(head.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *Client) handleRequest(req *jsonrpc.Request) {
	if !req.ID.IsValid() {
		switch req.Method {
		case "notifications/tools/list_changed":
			slog.Info("mcp provider tool list changed, reload to refresh the catalog", "provider", c.cfg.Name)
		default:
			debug.Log("protocol", "ignoring notification", "provider", c.cfg.Name, "method", req.Method)
		}
		return
	}

	resp := &jsonrpc.Response{ID: req.ID}
	if req.Method == methodPing {
		resp.Result = json.RawMessage(`{}`)
	} else {
		resp.Error = &jsonrpc.Error{
			Code:    jsonrpc.CodeMethodNotFound,
			Message: fmt.Sprintf("method %q is not supported by this client", req.Method),
		}
	}
	// The reader must not block on stdin backpressure.
	go func() {
		if err := c.writeMessage(resp); err != nil {
			debug.Log("protocol", "answering provider request failed", "provider", c.cfg.Name, "method", req.Method, "error", err)
		}
	}()
}

// finish marks the session closed and fails every pending call. It runs
// once; later calls are no-ops.
func (c *Client) finish(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.closeErr == nil {
		c.closeErr = cause
	}
	pending := c.pending
	c.pending = make(map[int64]chan reply)
	unavailable := c.unavailableLocked()
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: unavailable}
	}

	prev := State(c.state.Swap(int32(Closed)))
	if prev != Closing && !errors.Is(cause, errSessionClosed) {
		slog.Warn("mcp provider session ended",
			"provider", c.cfg.Name,
			"state", prev.String(),
			"error", cause,
			"stderr", c.stderrTail(),
		)
		if c.cmd != nil {
			go c.stop()
		}
	}
	if c.opts.OnClosed != nil {
		c.opts.OnClosed(c.cfg.Name, cause)
	}
}

// stop terminates and reaps the child. It runs the escalation once;
// concurrent callers wait for it to complete.
func (c *Client) stop() {
	c.stopOnce.Do(func() {
		if c.cmd == nil {
			return
		}
		grace := c.opts.GracePeriod

		c.closeStdin()
		if c.waitExit(grace) {
			return
		}
		debug.Log("providers", "provider still running after stdin close, sending SIGTERM", "provider", c.cfg.Name, "pid", c.PID())
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
		if c.waitExit(grace) {
			return
		}
		slog.Warn("mcp provider ignored SIGTERM, killing", "provider", c.cfg.Name, "pid", c.PID())
		c.kill()
		c.waitExit(grace)
	})
}

// kill forcibly terminates the child and unblocks the reader so the
// process can be reaped even if a grandchild still holds stdout.
func (c *Client) kill() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Kill()
	go func() {
		if !c.waitExit(c.opts.GracePeriod) {
			_ = c.stdout.Close()
		}
	}()
}

func (c *Client) closeStdin() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin != nil {
		_ = c.stdin.Close()
		c.stdin = nil
	}
}

func (c *Client) waitExit(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.exited:
		return true
	case <-t.C:
		return false
	}
}

func (c *Client) stderrTail() string {
	if c.stderr == nil {
		return ""
	}
	return c.stderr.Tail()
}

func convertTool(t *mcp.Tool) tools.ToolDefinition {
	def := tools.ToolDefinition{Name: t.Name, Description: t.Description}
	switch s := t.InputSchema.(type) {
	case nil:
	case map[string]any:
		def.InputSchema = s
	default:
		if data, err := json.Marshal(s); err == nil {
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				def.InputSchema = m
			}
		}
	}
	return def
}

func convertResult(res *mcp.CallToolResult) *tools.ToolResult {
	var b strings.Builder
	for _, content := range res.Content {
		tc, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(tc.Text)
	}
	return &tools.ToolResult{
		Content:    b.String(),
		Structured: res.StructuredContent,
		IsError:    res.IsError,
	}
}

// stderrLog forwards the child's stderr to the debug log line by line
// and keeps the last few lines for error reports.
type stderrLog struct {
	provider string

	mu   sync.Mutex
	buf  []byte
	tail []string
}

const stderrTailLines = 5

func (s *stderrLog) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		s.record(strings.TrimRight(string(s.buf[:i]), "\r"))
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) > 4096 {
		s.record(string(s.buf))
		s.buf = nil
	}
	return len(p), nil
}

func (s *stderrLog) record(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	debug.Log("providers", "provider stderr", "provider", s.provider, "line", line)
	s.tail = append(s.tail, line)
	if len(s.tail) > stderrTailLines {
		s.tail = s.tail[len(s.tail)-stderrTailLines:]
	}
}

// Tail returns the last stderr lines joined by " | ".
func (s *stderrLog) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.tail, " | ")
}
