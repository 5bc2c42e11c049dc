// Command approval-mcp runs the approval MCP server, a permission-prompt
// tool that answers from a static JSON policy. It serves stdio by default
// and SSE with --sse.
package main

import (
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/pkg/mcpserver/approval"
	"github.com/spf13/cobra"
)

func main() {
	var (
		policyPath string
		sseAddr    string
	)

	cmd := &cobra.Command{
		Use:          "approval-mcp",
		Short:        "Permission-prompt MCP server backed by a static policy",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; keep logs on stderr.
			logging.Init(logging.Config{Level: logging.WarnLevel, Output: os.Stderr})

			policy := &approval.Policy{}
			if policyPath != "" {
				p, err := approval.LoadPolicy(policyPath)
				if err != nil {
					return err
				}
				policy = p
			}

			s := approval.NewServer(policy)
			if sseAddr != "" {
				logging.Component("approval").Warn().Str("addr", sseAddr).Msg("serving SSE")
				return server.NewSSEServer(s).Start(sseAddr)
			}
			return server.ServeStdio(s)
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "path to a JSON policy file")
	cmd.Flags().StringVar(&sseAddr, "sse", "", "serve SSE on this address instead of stdio")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
