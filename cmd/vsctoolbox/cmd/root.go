// Package cmd provides the CLI commands for vsctoolbox.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vsctoolbox/index/internal/logging"
	"github.com/vsctoolbox/index/internal/workerhost"
	"github.com/vsctoolbox/index/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the vsctoolbox CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vsctoolbox",
		Short: "Workspace-scoped content and symbol index for C/C++ source trees",
		Long: `vsctoolbox indexes a C/C++ workspace for literal/glob search, symbol
lookup, and semantic nearest-chunk retrieval, and serves that index to
editor-integrated AI tools over the Model Context Protocol.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("vsctoolbox version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to the log directory")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSymbolsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newWorkerHostCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// newWorkerHostCmd is the hidden child-process entry point threadpool.New
// self-execs into. It is never invoked by a human.
func newWorkerHostCmd() *cobra.Command {
	var ctagsPath string

	cmd := &cobra.Command{
		Use:    "__workerhost",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := logging.Setup(logging.WorkerHostConfig())
			if err == nil {
				slog.SetDefault(logger)
				defer cleanup()
			}
			return workerhost.Run(cmd.Context(), ctagsPath, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&ctagsPath, "ctags-path", "ctags", "path to the ctags binary")
	return cmd
}
