package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencode-ai/toolguard/internal/audit"
	"github.com/opencode-ai/toolguard/internal/config"
	"github.com/opencode-ai/toolguard/internal/permission"
	"github.com/opencode-ai/toolguard/internal/server"
	"github.com/opencode-ai/toolguard/internal/watch"
)

// TestServer wraps a server instance for testing
type TestServer struct {
	Server     *server.Server
	BaseURL    string
	Aggregator *permission.Aggregator
	Checker    *permission.Checker
	Audit      *audit.Log
	Loader     *config.Loader
	TempDir    string
	WorkDir    string
	ConfigDir  string
	port       int

	unsubscribeAudit func()
	watcher          *watch.Watcher
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	envFile  string
	settings map[permission.Scope]string
	cliAllow []string
	cliDeny  []string
	noWatch  bool
}

// WithEnvFile loads TOOLGUARD_* variables from a .env file
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// WithSettings writes a settings file for scope before the server starts
func WithSettings(scope permission.Scope, content string) TestServerOption {
	return func(c *testServerConfig) {
		if c.settings == nil {
			c.settings = make(map[permission.Scope]string)
		}
		c.settings[scope] = content
	}
}

// WithCLIRules sets the cliArgument scope
func WithCLIRules(allow, deny []string) TestServerOption {
	return func(c *testServerConfig) {
		c.cliAllow = allow
		c.cliDeny = deny
	}
}

// WithoutWatcher disables reloading on settings file changes
func WithoutWatcher() TestServerOption {
	return func(c *testServerConfig) {
		c.noWatch = true
	}
}

// StartTestServer creates a project in a temp directory and serves the
// permission API for it.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		if err := godotenv.Load(cfg.envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp("", "toolguard-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	// macOS temp dirs are symlinks; the path gate compares resolved paths.
	if resolved, err := filepath.EvalSymlinks(tempDir); err == nil {
		tempDir = resolved
	}

	workDir := filepath.Join(tempDir, "project")
	configDir := filepath.Join(tempDir, "config")
	for _, dir := range []string{workDir, configDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}
	}

	env.ConfigDir = configDir
	env.ManagedSettings = filepath.Join(tempDir, "managed", "managed-settings.json")
	env.AuditDir = filepath.Join(tempDir, "audit")
	env.PromptTool = ""

	loader := config.NewLoader(workDir, config.WithEnv(env), config.WithCLIRules(cfg.cliAllow, cfg.cliDeny))
	for scope, content := range cfg.settings {
		if err := WriteFile(loader.SettingsPath(scope), content); err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}
	}

	ctx := context.Background()
	resolved, err := loader.Resolve(ctx)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	agg := permission.NewAggregator(loader, workDir)
	evaluator := permission.NewEvaluator(agg, permission.WithDefaultBehavior(resolved.DefaultBehavior))
	checker := permission.NewChecker(evaluator, agg)
	if _, err := agg.Reload(ctx); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	auditLog, err := audit.Open(env.AuditDir)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf("127.0.0.1:%d", port)

	srv := server.New(serverConfig, checker, agg, server.WithAudit(auditLog))

	ts := &TestServer{
		Server:           srv,
		BaseURL:          fmt.Sprintf("http://127.0.0.1:%d", port),
		Aggregator:       agg,
		Checker:          checker,
		Audit:            auditLog,
		Loader:           loader,
		TempDir:          tempDir,
		WorkDir:          workDir,
		ConfigDir:        configDir,
		port:             port,
		unsubscribeAudit: auditLog.Subscribe(),
	}

	if !cfg.noWatch {
		ts.watcher, err = watch.NewWatcher(agg, loader.Files(), watch.WithDebounce(50*time.Millisecond))
		if err != nil {
			ts.Stop()
			return nil, err
		}
		ts.watcher.Start()
	}

	go func() {
		_ = srv.Start()
	}()

	if err := waitForServer(ts.BaseURL, 10*time.Second); err != nil {
		ts.Stop()
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return ts, nil
}

// SettingsPath returns the settings file of scope for the test project
func (ts *TestServer) SettingsPath(scope permission.Scope) string {
	return ts.Loader.SettingsPath(scope)
}

// WriteSettings replaces the settings file of scope
func (ts *TestServer) WriteSettings(scope permission.Scope, content string) error {
	return WriteFile(ts.SettingsPath(scope), content)
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts.Checker.RejectAll()
	if ts.watcher != nil {
		_ = ts.watcher.Stop()
	}
	if ts.unsubscribeAudit != nil {
		ts.unsubscribeAudit()
	}

	if ts.Server != nil {
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}

	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}

	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
