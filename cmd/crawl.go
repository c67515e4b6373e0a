package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/clock/system"
	"github.com/JakeFAU/cafe-etl/internal/crawler"
	"github.com/JakeFAU/cafe-etl/internal/server"
)

// dayClock supplies the default end of a date range.
type dayClock interface {
	Today() time.Time
}

var clock dayClock = system.New()

// newCrawlCmd groups the four traversal shapes. Every crawl opens the login
// browser first and waits out the login window before fetching anything.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl cafe articles or blog posts into a tab-separated file",
	}
	cmd.AddCommand(
		newArticleCmd(),
		newPopularCmd(),
		newWindowedCmd(crawler.ShapeSearch, "Crawl cafe articles matching a keyword within a date range"),
		newWindowedCmd(crawler.ShapeBlog, "Crawl blog posts matching a keyword within a date range"),
	)
	return cmd
}

func newArticleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "article <cafe-id> <article-id>...",
		Short: "Crawl specific articles of one cafe",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, func() (server.CrawlRequest, error) {
				return server.CrawlRequest{
					Shape:      crawler.ShapeArticle,
					CafeID:     args[0],
					ArticleIDs: args[1:],
				}, nil
			})
		},
	}
}

func newPopularCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "popular <cafe-id>",
		Short: "Crawl the articles on a cafe's weekly popular board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, func() (server.CrawlRequest, error) {
				return server.CrawlRequest{Shape: crawler.ShapePopular, CafeID: args[0]}, nil
			})
		},
	}
}

func newWindowedCmd(shape crawler.Shape, short string) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   string(shape) + " <keyword>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, func() (server.CrawlRequest, error) {
				start, end, err := parseRange(from, to, clock.Today())
				return server.CrawlRequest{Shape: shape, Keyword: args[0], From: start, To: end}, err
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD or YYYYMMDD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive (default today)")
	return cmd
}

// parseRange resolves the --from/--to flags. Empty values mean today.
func parseRange(from, to string, today time.Time) (time.Time, time.Time, error) {
	start, end := today, today
	var err error
	if from != "" {
		if start, err = crawler.ParseDay(from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if end, err = crawler.ParseDay(to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end, nil
}

// runCrawl builds the request inside withApp so the App is closed even when
// the arguments turn out to be invalid.
func runCrawl(cmd *cobra.Command, build func() (server.CrawlRequest, error)) error {
	return withApp(cmd, func(ctx context.Context, app App) error {
		req, err := build()
		if err != nil {
			return err
		}
		summary, err := app.Crawl(ctx, req)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run crawl: %w", err)
		}
		if err != nil {
			zap.L().Warn("crawl interrupted; records written so far are kept", zap.String("output", summary.Output))
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %q: wrote %d records (%d dropped, %d duplicates) to %s\n",
			req.Shape, req.Seed(), summary.Written, summary.Dropped, summary.Duplicates, summary.Output)
		if summary.ArchiveURI != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "archived to %s\n", summary.ArchiveURI)
		}
		return nil
	})
}
