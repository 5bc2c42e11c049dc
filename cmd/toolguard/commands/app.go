package commands

import (
	"context"

	"github.com/opencode-ai/toolguard/internal/config"
	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/internal/mcp"
	"github.com/opencode-ai/toolguard/internal/permission"
)

// app is the permission engine wired from settings, environment and flags.
type app struct {
	rootDir    string
	loader     *config.Loader
	resolved   *config.Resolved
	aggregator *permission.Aggregator
	evaluator  *permission.Evaluator
	checker    *permission.Checker
	mcpClient  *mcp.Client
}

type appOptions struct {
	// connectPrompt connects the configured permission-prompt tool.
	connectPrompt bool
	loaderOpts    []config.Option
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	rootDir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, err
	}

	loaderOpts := append([]config.Option{
		config.WithEnv(env),
		config.WithCLIRules(cliAllow, cliDeny),
	}, opts.loaderOpts...)
	loader := config.NewLoader(rootDir, loaderOpts...)

	resolved, err := loader.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{
		rootDir:    rootDir,
		loader:     loader,
		resolved:   resolved,
		aggregator: permission.NewAggregator(loader, rootDir),
	}

	log := logging.Component("permission")
	evalOpts := []permission.Option{
		permission.WithDefaultBehavior(resolved.DefaultBehavior),
		permission.WithErrorReporter(permission.ErrorReporterFunc(func(err error) {
			log.Warn().Err(err).Msg("ignore pattern skipped")
		})),
	}

	evalOpts = append(evalOpts, permission.WithPromptTimeout(env.PromptTimeout))
	if opts.connectPrompt && resolved.PermissionPromptTool != "" {
		a.mcpClient = mcp.NewClient()
		evalOpts = append(evalOpts, promptOptions(ctx, a.mcpClient, resolved)...)
	}

	a.evaluator = permission.NewEvaluator(a.aggregator, evalOpts...)
	a.checker = permission.NewChecker(a.evaluator, a.aggregator)

	if _, err := a.aggregator.Reload(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// promptOptions connects the configured prompt tool. A tool that cannot be
// reached is logged and skipped so that decisions fall through to the
// default behavior or ask.
func promptOptions(ctx context.Context, client *mcp.Client, resolved *config.Resolved) []permission.Option {
	prompt, err := mcp.ConnectPromptTool(ctx, client, resolved.PermissionPromptTool, resolved.MCP)
	if err != nil {
		logging.Component("mcp").Warn().Err(err).
			Str("tool", resolved.PermissionPromptTool).
			Msg("permission prompt tool unavailable, continuing without it")
		return nil
	}
	return []permission.Option{permission.WithPromptResolver(prompt)}
}

// mcpToolNames returns the qualified names of connected MCP tools.
func (a *app) mcpToolNames() []string {
	if a.mcpClient == nil {
		return nil
	}
	var names []string
	for _, t := range a.mcpClient.Tools() {
		names = append(names, t.Name)
	}
	return names
}

func (a *app) close() {
	if a.mcpClient != nil {
		if err := a.mcpClient.Close(); err != nil {
			logging.Component("mcp").Warn().Err(err).Msg("closing MCP servers")
		}
	}
}
