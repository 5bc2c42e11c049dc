package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/audit"
	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/internal/server"
	"github.com/opencode-ai/toolguard/internal/watch"
)

var (
	serveAddr    string
	serveNoAudit bool
	serveNoWatch bool
	serveNoCORS  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the permission HTTP API",
	Long: `Start toolguard as a server that exposes the permission engine over HTTP.

Agents call POST /permission/check before running a tool, or
POST /permission/request to wait for a user reply on ask. Settings files are
watched and the rules reload when they change. Every decision is appended to
the audit log unless --no-audit is given.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default TOOLGUARD_ADDR or 127.0.0.1:4097)")
	serveCmd.Flags().BoolVar(&serveNoAudit, "no-audit", false, "Do not record decisions")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload rules when settings files change")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS headers")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Component("serve")
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{connectPrompt: true})
	if err != nil {
		return err
	}
	defer a.close()

	log.Info().Str("version", Version).Str("root", a.rootDir).Msg("starting toolguard server")

	var opts []server.Option
	if a.mcpClient != nil {
		opts = append(opts, server.WithMCPClient(a.mcpClient))
	}

	if !serveNoAudit {
		auditLog, err := audit.Open(env.AuditPath())
		if err != nil {
			return err
		}
		unsubscribe := auditLog.Subscribe()
		defer unsubscribe()
		opts = append(opts, server.WithAudit(auditLog))
		log.Info().Str("dir", auditLog.Dir()).Msg("recording decisions")
	}

	if !serveNoWatch {
		w, err := watch.NewWatcher(a.aggregator, a.loader.Files())
		if err != nil {
			return err
		}
		w.Start()
		defer func() {
			if err := w.Stop(); err != nil {
				log.Warn().Err(err).Msg("stopping settings watcher")
			}
		}()
		log.Info().Strs("dirs", w.Dirs()).Msg("watching settings")
	}

	cfg := server.DefaultConfig()
	cfg.Addr = env.Addr
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	cfg.EnableCORS = !serveNoCORS

	srv := server.New(cfg, a.checker, a.aggregator, opts...)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if n := a.checker.RejectAll(); n > 0 {
		log.Info().Int("count", n).Msg("rejected pending permission requests")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
