package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/cafe-etl/internal/upload"
)

func newUploadCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Load a crawl file into a database table",
		Long: `Reads a crawl file line by line and inserts (url, title, content, comments)
into the target table. Rows whose url already exists are left untouched,
so uploading the same file twice is harmless.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app App) error {
				result, err := app.Upload(ctx, args[0], table)
				if err != nil {
					return fmt.Errorf("upload %s: %w", args[0], err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "processed %d lines into %s (%d inserted, %d skipped)\n",
					result.Processed, table, result.Inserted, result.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", upload.Tables[0],
		"target table: "+strings.Join(upload.Tables, " or "))
	return cmd
}
