package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsctoolbox/index/internal/config"
	"github.com/vsctoolbox/index/internal/facade"
)

type statusInfo struct {
	Workspace string `json:"workspace"`
	FileCount int    `json:"file_count"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show index health for a workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd.Context(), cmd, path, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	info := statusInfo{Workspace: root}

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

	info.FileCount = len(f.CacheManager().GetAllPaths("", ""))

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "workspace: %s\n", info.Workspace)
	fmt.Fprintf(cmd.OutOrStdout(), "files indexed: %d\n", info.FileCount)
	return nil
}
