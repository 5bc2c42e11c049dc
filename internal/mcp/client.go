package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/opencode-ai/toolguard/internal/logging"
)

const (
	// DefaultTimeout bounds connecting and listing tools.
	DefaultTimeout = 5 * time.Second
	// MaxConnectRetries is the number of reconnect attempts after a failed
	// connect.
	MaxConnectRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = 200 * time.Millisecond
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 2 * time.Second
)

// Client manages MCP server connections using the official MCP SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
	retries   uint64
}

// mcpServer represents a connected MCP server.
type mcpServer struct {
	name       string
	config     *Config
	session    *sdkmcp.ClientSession
	tools      []Tool
	status     Status
	error      string
	serverInfo *ServerInfo
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithConnectRetries sets how many times a failed connect is retried.
func WithConnectRetries(n uint64) ClientOption {
	return func(c *Client) { c.retries = n }
}

// NewClient creates a new MCP client.
func NewClient(opts ...ClientOption) *Client {
	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "toolguard",
		Version: "1.0.0",
	}, nil)

	c := &Client{
		servers:   make(map[string]*mcpServer),
		sdkClient: sdkClient,
		retries:   MaxConnectRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newConnectBackoff creates an exponential backoff with jitter for
// connection retries.
func newConnectBackoff(ctx context.Context, retries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.RandomizationFactor = 0.5 // Add jitter
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// AddServer adds and connects to an MCP server. Failed connects are
// retried with exponential backoff; configuration errors are not.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if already exists
	if _, ok := c.servers[name]; ok {
		return fmt.Errorf("server already exists: %s", name)
	}

	if !config.Enabled {
		c.servers[name] = &mcpServer{
			name:   name,
			config: config,
			status: StatusDisabled,
		}
		return nil
	}

	log := logging.Component("mcp")
	var server *mcpServer
	connect := func() error {
		s, err := c.connectServer(ctx, name, config)
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return backoff.Permanent(err)
			}
			return err
		}
		server = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("server", name).Dur("retryIn", wait).Msg("MCP connect failed, retrying")
	}

	if err := backoff.RetryNotify(connect, newConnectBackoff(ctx, c.retries), notify); err != nil {
		c.servers[name] = &mcpServer{
			name:   name,
			config: config,
			status: StatusFailed,
			error:  err.Error(),
		}
		return err
	}

	c.servers[name] = server
	return nil
}

// Connect adds a server reached over an already constructed transport.
func (c *Client) Connect(ctx context.Context, name string, transport sdkmcp.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[name]; ok {
		return fmt.Errorf("server already exists: %s", name)
	}

	server := &mcpServer{
		name:   name,
		config: &Config{Enabled: true},
		status: StatusConnecting,
	}
	session, err := c.connectWithTransport(ctx, transport, DefaultTimeout, server)
	if err != nil {
		return err
	}
	server.session = session
	server.status = StatusConnected
	c.servers[name] = server
	return nil
}

// permanentError marks connect failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// connectServer establishes connection to an MCP server using the SDK.
func (c *Client) connectServer(ctx context.Context, name string, config *Config) (*mcpServer, error) {
	timeout := time.Duration(config.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	server := &mcpServer{
		name:   name,
		config: config,
		status: StatusConnecting,
	}

	switch config.Type {
	case TransportTypeRemote:
		if config.URL == "" {
			return nil, &permanentError{fmt.Errorf("empty url")}
		}
		httpClient := httpClientWithHeaders(nil, config.Headers)
		transports := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{name: "streamable", transport: &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
			{name: "sse", transport: &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
		}

		var lastErr error
		for _, candidate := range transports {
			// The session outlives ctx; SSE streams are bound to the connect context.
			session, err := c.connectWithTransport(context.Background(), candidate.transport, timeout, server)
			if err != nil {
				lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
				continue
			}
			server.session = session
			server.status = StatusConnected
			return server, nil
		}
		return nil, lastErr

	case TransportTypeLocal, TransportTypeStdio:
		if len(config.Command) == 0 {
			return nil, &permanentError{fmt.Errorf("empty command")}
		}

		connectCtx, connectCancel := context.WithTimeout(ctx, timeout)
		defer connectCancel()

		cmd := exec.Command(config.Command[0], config.Command[1:]...)

		// Set environment
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}

		session, err := c.connectWithTransport(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, timeout, server)
		if err != nil {
			return nil, err
		}
		server.session = session
		server.status = StatusConnected
		return server, nil

	default:
		return nil, &permanentError{fmt.Errorf("unknown transport type: %s", config.Type)}
	}
}

func (c *Client) connectWithTransport(ctx context.Context, transport sdkmcp.Transport, timeout time.Duration, server *mcpServer) (*sdkmcp.ClientSession, error) {
	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	server.session = session

	// Capture server info from initialization result if available
	if initResult := session.InitializeResult(); initResult != nil && initResult.ServerInfo != nil {
		server.serverInfo = &ServerInfo{
			Name:    initResult.ServerInfo.Name,
			Version: initResult.ServerInfo.Version,
		}
	}

	listCtx, listCancel := context.WithTimeout(context.Background(), timeout)
	defer listCancel()
	if err := server.listTools(listCtx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	return session, nil
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	// Copy to avoid mutating caller-provided client
	client := *base
	client.Timeout = 0 // no global timeout; rely on per-request contexts

	if len(headers) == 0 {
		return &client
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	client.Transport = &headerRoundTripper{
		headers: headers,
		next:    transport,
	}

	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// listTools lists available tools from the server using the SDK.
func (s *mcpServer) listTools(ctx context.Context) error {
	if s.session == nil {
		return fmt.Errorf("not connected")
	}

	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	s.tools = make([]Tool, len(result.Tools))
	for i, t := range result.Tools {
		s.tools[i] = FromSDKTool(t)
	}

	return nil
}

// Tools returns all tools from all connected servers, named
// mcp__<server>__<tool> as permission rules refer to them.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var allTools []Tool
	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}

		for _, tool := range server.tools {
			allTools = append(allTools, Tool{
				Name:        QualifiedToolName(name, tool.Name),
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}

	return allTools
}

// CallTool calls a tool on the named server and returns its text output.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error) {
	c.mu.RLock()
	server, ok := c.servers[serverName]
	c.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("server not found: %s", serverName)
	}
	if server.status != StatusConnected || server.session == nil {
		return "", fmt.Errorf("server not connected: %s", serverName)
	}

	params := &sdkmcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	result, err := server.session.CallTool(ctx, params)
	if err != nil {
		return "", err
	}

	if result.IsError {
		// Extract error message from content
		for _, content := range result.Content {
			if textContent, ok := content.(*sdkmcp.TextContent); ok {
				return "", fmt.Errorf("tool error: %s", textContent.Text)
			}
		}
		return "", fmt.Errorf("tool execution failed")
	}

	// Extract text content
	var output strings.Builder
	for _, content := range result.Content {
		if textContent, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(textContent.Text)
		}
	}

	return output.String(), nil
}

// Status returns status of all MCP servers.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var status []ServerStatus
	for name, server := range c.servers {
		status = append(status, server.statusOf(name))
	}
	return status
}

// GetServer returns information about a specific server.
func (c *Client) GetServer(name string) (*ServerStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	server, ok := c.servers[name]
	if !ok {
		return nil, fmt.Errorf("server not found: %s", name)
	}

	s := server.statusOf(name)
	return &s, nil
}

func (s *mcpServer) statusOf(name string) ServerStatus {
	status := ServerStatus{
		Name:      name,
		Status:    s.status,
		ToolCount: len(s.tools),
		Info:      s.serverInfo,
	}
	if s.error != "" {
		status.Error = &s.error
	}
	return status
}

// RemoveServer removes and disconnects a server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}

	if server.session != nil {
		server.session.Close()
	}

	delete(c.servers, name)
	return nil
}

// Close disconnects all servers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, server := range c.servers {
		if server.session != nil {
			server.session.Close()
		}
	}

	c.servers = make(map[string]*mcpServer)
	return nil
}

// ServerCount returns the number of configured servers.
func (c *Client) ServerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers)
}

// ConnectedCount returns the number of connected servers.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, server := range c.servers {
		if server.status == StatusConnected {
			count++
		}
	}
	return count
}

// FromSDKTool converts an SDK tool description.
func FromSDKTool(t *sdkmcp.Tool) Tool {
	tool := Tool{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		if data, err := json.Marshal(t.InputSchema); err == nil {
			tool.InputSchema = data
		}
	}
	return tool
}
