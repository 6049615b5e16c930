package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/collectiond/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve one owner's collections over MCP on stdio",
		Long: `Run an MCP server on stdin/stdout that acts as a single owner.

Logs go to stderr; stdout carries protocol frames only.

Examples:
  collectiond mcp --owner user1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, opts, owner)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "principal every tool call acts as")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func runMCP(ctx context.Context, opts *rootOptions, owner string) error {
	st, err := newStack(ctx, opts, true)
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := buildApp(ctx, st.cfg, st.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "collectiond",
		Version: version,
		Owner:   owner,
		Logger:  st.logger.Underlying(),
	}, a.coord)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}
	return srv.Run(ctx)
}
