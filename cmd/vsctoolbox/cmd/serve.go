package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vsctoolbox/index/internal/config"
	"github.com/vsctoolbox/index/internal/facade"
	"github.com/vsctoolbox/index/internal/mcpserver"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Serve the index to MCP clients over stdio",
		Long: `Initializes the index for the workspace (indexing it first if
needed) and serves search_text, get_container, and nearest_chunks tools
over the Model Context Protocol until the client disconnects.

stdout is reserved exclusively for MCP protocol frames; all logging goes
to the log file instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path)
		},
	}
	return cmd
}

func runServe(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := config.FindProjectRoot(path)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}

	f := facade.Get()
	if err := f.Initialize(ctx, root); err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}
	defer f.Dispose()

	server := mcpserver.New(f.CacheManager())
	return server.Serve(ctx)
}
