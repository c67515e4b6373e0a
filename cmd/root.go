// Package cmd defines the cafe-etl CLI: crawl subcommands that write flat
// files and the upload command that loads them into a database.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/config"
	"github.com/JakeFAU/cafe-etl/internal/logging"
	"github.com/JakeFAU/cafe-etl/internal/publisher"
	"github.com/JakeFAU/cafe-etl/internal/server"
	"github.com/JakeFAU/cafe-etl/internal/upload"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands drive. Tests inject a fake through newApp.
type App interface {
	Crawl(ctx context.Context, req server.CrawlRequest) (publisher.RunSummary, error)
	Upload(ctx context.Context, path, table string) (upload.Result, error)
	Close()
}

// newApp is the application factory, swapped out in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile   string
	outputDir string
	headless  bool
	status    string
}

// applyOverrides lets flags win over file and environment values.
func (o *rootOptions) applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.Crawler.OutputDir = o.outputDir
	}
	if flags.Changed("headless") {
		cfg.Session.Headless = o.headless
	}
	if flags.Changed("status-addr") {
		cfg.Status.Enabled = o.status != ""
		cfg.Status.Addr = o.status
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate flags: %w", err)
	}
	return nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cafe-etl",
		Short: "Crawl Naver cafe and blog posts into flat files and load them into a database.",
		Long: `cafe-etl collects Naver cafe articles (direct, popular board or keyword
search) and blog posts into tab-separated files, one record per line, and
loads those files into an articles table with an idempotent upsert.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := opts.applyOverrides(cmd, &cfg); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML); CAFEETL_* environment variables also apply")
	flags.StringVar(&opts.outputDir, "output-dir", "", "directory crawl files are written to")
	flags.BoolVar(&opts.headless, "headless", false, "hide the login browser window")
	flags.StringVar(&opts.status, "status-addr", "", "serve /healthz, /metrics and /status on this address during a crawl")

	cmd.AddCommand(newCrawlCmd(), newUploadCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn against the injected App and closes it afterwards, also
// when fn fails. Cobra skips post-run hooks on error, so closing lives here.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app App) error) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()
	return fn(cmd.Context(), appInstance)
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	_ = logging.Sync(zap.L())
	if err != nil {
		os.Exit(1)
	}
}
