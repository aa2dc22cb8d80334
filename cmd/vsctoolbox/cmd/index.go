package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsctoolbox/index/internal/config"
	"github.com/vsctoolbox/index/internal/facade"
	"github.com/vsctoolbox/index/internal/tui"
)

func newIndexCmd() *cobra.Command {
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build or refresh the index for a workspace",
		Long: `Discovers tracked files under the workspace root, tags them with
ctags, chunks and embeds their contents, and starts the background
watcher that keeps the index current as files change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(ctx, cmd, path, noTUI)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "disable the interactive progress display")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, noTUI bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	renderer := tui.NewRenderer(tui.Config{
		Output:     cmd.OutOrStdout(),
		ForcePlain: noTUI,
		NoColor:    tui.DetectNoColor(),
		Workspace:  root,
	})
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("start progress display: %w", err)
	}
	defer renderer.Stop()

	start := time.Now()
	f := facade.Get()
	if err := f.Initialize(ctx, root); err != nil {
		renderer.AddError(tui.ErrorEvent{Err: err})
		return fmt.Errorf("initialize index: %w", err)
	}
	defer f.Dispose()

	renderer.UpdateProgress(tui.ProgressEvent{Stage: tui.StageDiscovery})

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-f.Ready():
			count := len(f.CacheManager().GetAllPaths("", ""))
			renderer.UpdateProgress(tui.ProgressEvent{Stage: tui.StageDiff, Current: count, Total: count})
			renderer.Complete(tui.CompletionStats{
				Files:    count,
				Duration: time.Since(start),
			})
			return nil
		case <-ticker.C:
			count := len(f.CacheManager().GetAllPaths("", ""))
			renderer.UpdateProgress(tui.ProgressEvent{Stage: tui.StageChunk, Current: count})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
