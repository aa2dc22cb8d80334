package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsctoolbox/index/internal/config"
	"github.com/vsctoolbox/index/internal/facade"
)

func newSearchCmd() *cobra.Command {
	var (
		scope string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Literal/glob AND search across the indexed workspace",
		Long: `Every space-separated term in the query must match; * and ? behave
as filename-style wildcards within a line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), scope, limit)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "comma-separated include-glob restricting which files are searched")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of hits")
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query, scope string, limit int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = filepath.Abs(".")
		if err != nil {
			return err
		}
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

	hits, err := f.CacheManager().Search(ctx, query, scope, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for _, h := range hits {
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%d: %s\n", h.FilePath, h.Line, h.Text)
	}
	return nil
}
