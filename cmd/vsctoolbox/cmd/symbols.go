package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsctoolbox/index/internal/config"
	"github.com/vsctoolbox/index/internal/facade"
)

func newSymbolsCmd() *cobra.Command {
	var line int

	cmd := &cobra.Command{
		Use:   "symbols <path>",
		Short: "Resolve the innermost symbol enclosing a file and line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbols(cmd.Context(), cmd, args[0], line)
		},
	}

	cmd.Flags().IntVar(&line, "line", 1, "1-based line number")
	return cmd
}

func runSymbols(ctx context.Context, cmd *cobra.Command, path string, line int) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(filepath.Dir(absPath))
	if err != nil {
		root = filepath.Dir(absPath)
	}

	f := facade.Get()
	if err := f.Initialize(ctx, root); err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Dispose()

	select {
	case <-f.Ready():
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for index to become ready")
	case <-ctx.Done():
		return ctx.Err()
	}

	entries, err := f.CacheManager().Get(ctx, []string{absPath}, true)
	if err != nil {
		return fmt.Errorf("get file index: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%s is not tracked by the index", absPath)
	}

	symbol, ok := entries[0].GetContainer(line)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "no enclosing symbol at %s:%d\n", absPath, line)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s:%d-%d)\n", symbol.Kind, symbol.Name, absPath, symbol.StartLine, symbol.EndLine)
	return nil
}
