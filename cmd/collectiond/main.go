// Collectiond serves per-owner document collections over HTTP and MCP.
//
// Usage:
//
//	# Apply the schema, then start the HTTP API
//	collectiond migrate up
//	collectiond serve
//
//	# Serve one owner's collections to an MCP client on stdio
//	collectiond mcp --owner user1
//
// Configuration is read from ~/.config/collectiond/config.yaml (or --config)
// and overridden by COLLECTIOND_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "collectiond",
		Short: "Multi-tenant document collection service",
		Long: `collectiond stores uploaded files, splits them into searchable chunks and
keeps collections, chunks, file records and stored originals consistent
for every owner.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/collectiond/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "collectiond by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
