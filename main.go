package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/couchup/couchup/catalog"
	"github.com/couchup/couchup/config"
	"github.com/couchup/couchup/couch"
	"github.com/couchup/couchup/errors"
	"github.com/couchup/couchup/log"
	"github.com/couchup/couchup/metrics"
	"github.com/couchup/couchup/migrate"
)

// Constants for the optional metrics listener.
const (
	MetricsReadTimeout       = 30 * time.Second
	MetricsReadHeaderTimeout = 3 * time.Second
)

// contextKey is a type for context keys used in this package.
type contextKey string

// configContextKey is the context key for storing *config.Config.
const configContextKey contextKey = "config"

var (
	Version   = "v1.0.0" //nolint:gochecknoglobals
	Platform  = ""       //nolint:gochecknoglobals
	GitCommit = ""       //nolint:gochecknoglobals
	GitBranch = ""       //nolint:gochecknoglobals
	BuildTime = ""       //nolint:gochecknoglobals
)

func buildVersion() string {
	return Version + " " + GitCommit + " " + BuildTime
}

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:   "couchup",
	Short: "Migrate databases from a single-node CouchDB to a clustered deployment",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Load and validate config
		cfg, err := config.Load(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			logLevel = zerolog.InfoLevel
		}

		if cfg.Quiet {
			logLevel = zerolog.Disabled
		}

		lg := log.InitGlobals(logLevel, cfg.Log.JSON, cfg.Log.NoColor)
		ctx := lg.WithContext(context.Background())
		ctx = context.WithValue(ctx, configContextKey, cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

//nolint:gochecknoglobals
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		info := fmt.Sprintf("Version:   %s\nPlatform:  %s\nGitCommit: "+
			"%s\nGitBranch: %s\nBuildTime: %s\nGoVersion: %s",
			Version,
			Platform,
			GitCommit,
			GitBranch,
			BuildTime,
			runtime.Version(),
		)

		cmd.Println(info)
	},
}

//nolint:gochecknoglobals
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List databases visible on the source or target endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cfg, err := commandSetup(cmd)
		if err != nil {
			return err
		}

		client := newClient(cfg.Source, cfg)
		if cfg.Clustered {
			client = newClient(cfg.Target, cfg)
		}

		listing, err := catalog.Enumerate(ctx, client, cfg.IncludeSystem)
		if err != nil {
			return errors.Wrap(err, "enumerate databases")
		}

		records := listing.Local
		if cfg.Clustered {
			records = listing.Clustered
		}

		for _, rec := range records {
			cmd.Println(rec.Name)
		}

		return nil
	},
}

//nolint:gochecknoglobals
var replicateCmd = &cobra.Command{
	Use:   "replicate [database...]",
	Short: "Replicate databases from the source to the target",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, err := commandSetup(cmd)
		if err != nil {
			return err
		}

		source := newClient(cfg.Source, cfg)
		target := newClient(cfg.Target, cfg)

		databases, err := resolveDatabases(ctx, cfg, source, args)
		if err != nil {
			return err
		}

		if cfg.MetricsPort != 0 {
			stopMetrics := serveMetrics(ctx, cfg.MetricsPort)
			defer stopMetrics()
		}

		orch := &migrate.Orchestrator{
			Source:        source,
			Target:        target,
			StallTimeout:  cfg.Timeout,
			FilterDeleted: cfg.FilterDeleted,
			Credentials:   credentials(cfg),
		}

		log.Ctx(ctx).Infof("Replicating %d database(s)", len(databases))

		return orch.Replicate(ctx, databases)
	},
}

//nolint:gochecknoglobals
var rebuildCmd = &cobra.Command{
	Use:   "rebuild [database...]",
	Short: "Trigger view index rebuilds on the target",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, err := commandSetup(cmd)
		if err != nil {
			return err
		}

		source := newClient(cfg.Source, cfg)
		target := newClient(cfg.Target, cfg)

		databases, err := resolveDatabases(ctx, cfg, source, args)
		if err != nil {
			return err
		}

		rb := &migrate.Rebuilder{
			Target:  target,
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}

		return rb.Rebuild(ctx, databases, cfg.Views)
	},
}

//nolint:gochecknoglobals
var deleteCmd = &cobra.Command{
	Use:   "delete [database...]",
	Short: "Delete migrated databases from the source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, err := commandSetup(cmd)
		if err != nil {
			return err
		}

		source := newClient(cfg.Source, cfg)
		target := newClient(cfg.Target, cfg)

		databases, err := resolveDatabases(ctx, cfg, source, args)
		if err != nil {
			return err
		}

		del := &migrate.Deleter{
			Source: source,
			Target: target,
			Force:  cfg.Force,
		}

		return del.Delete(ctx, databases)
	},
}

func main() {
	rootCmd.PersistentFlags().String("source", "",
		"Base URL of the single-node source endpoint (default "+config.DefaultSourceURL+")")
	rootCmd.PersistentFlags().String("target", "",
		"Base URL of the clustered target endpoint (default "+config.DefaultTargetURL+")")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output log in JSON format")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "Disable log color")
	rootCmd.PersistentFlags().Bool("quiet", false,
		"Suppress diagnostic output (exit codes are preserved)")
	rootCmd.PersistentFlags().String("login", "", "Basic auth login for both endpoints")
	rootCmd.PersistentFlags().String("password", "", "Basic auth password for both endpoints")

	listCmd.Flags().Bool("include-system-dbs", false, "Include system databases")
	listCmd.Flags().Bool("clustered", false, "List logical names on the target endpoint")

	replicateCmd.Flags().Bool("all-dbs", false, "Replicate every non-system database")
	replicateCmd.Flags().Int("timeout", config.DefaultStallTimeout,
		"Stall timeout in polls (one poll per second)")
	replicateCmd.Flags().Bool("filter-deleted", false,
		"Skip deleted documents via a filter design document on the source")
	replicateCmd.Flags().Int("metrics-port", 0,
		"Serve Prometheus metrics on this port during the run (0 = disabled)")

	rebuildCmd.Flags().Bool("all-dbs", false, "Rebuild every non-system database")
	rebuildCmd.Flags().StringSlice("views", nil,
		"Explicit ddoc/view names (only with exactly one database)")
	rebuildCmd.Flags().Int("timeout", config.DefaultRebuildTimeout,
		"Bounded view read timeout in seconds")

	deleteCmd.Flags().Bool("all-dbs", false, "Delete every non-system database")
	deleteCmd.Flags().Bool("force", false, "Skip the doc-count parity check")

	rootCmd.AddCommand(
		versionCmd,
		listCmd,
		replicateCmd,
		rebuildCmd,
		deleteCmd,
	)

	err := rootCmd.Execute()
	if err != nil {
		if viper.GetBool("quiet") {
			os.Exit(1)
		}

		zerolog.Ctx(context.Background()).Fatal().Err(err).Msg("")
	}
}

// commandSetup validates the loaded config and installs signal handling.
func commandSetup(cmd *cobra.Command) (context.Context, *config.Config, error) {
	cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

	err := config.Validate(cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "validate options")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	cmd.SetContext(ctx)
	_ = stop // released on process exit

	return ctx, cfg, nil
}

func credentials(cfg *config.Config) *couch.Credentials {
	if cfg.Login == "" {
		return nil
	}

	return &couch.Credentials{Login: cfg.Login, Password: cfg.Password}
}

func newClient(baseURL string, cfg *config.Config) *couch.Client {
	return couch.NewClient(baseURL, credentials(cfg))
}

// resolveDatabases expands --all-dbs into the catalog's local partition, or
// takes the explicit database arguments.
func resolveDatabases(
	ctx context.Context,
	cfg *config.Config,
	source *couch.Client,
	args []string,
) ([]string, error) {
	if cfg.AllDBs {
		if len(args) != 0 {
			return nil, errors.New("--all-dbs cannot be combined with database arguments")
		}

		listing, err := catalog.Enumerate(ctx, source, false)
		if err != nil {
			return nil, errors.Wrap(err, "enumerate databases")
		}

		return catalog.Names(listing.Local), nil
	}

	if len(args) == 0 {
		return nil, errors.New("no databases specified: pass database names or --all-dbs")
	}

	return args, nil
}

// serveMetrics starts the Prometheus listener for the duration of a run.
func serveMetrics(ctx context.Context, port int) func() {
	registry := prometheus.NewRegistry()
	metrics.Init(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: mux,

		ReadTimeout:       MetricsReadTimeout,
		ReadHeaderTimeout: MetricsReadHeaderTimeout,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Ctx(ctx).Error(err, "Metrics listener")
		}
	}()

	log.Ctx(ctx).Infof("Serving metrics at http://%s/metrics", srv.Addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}
}
