// Command tmcnotebook inspects and drives a persisted notebook of map cells:
// it validates the dependency graph, prints request chains, resolves TMCs
// against the resolution service and moves snapshots to and from the archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"tmcnotebook/internal/archive"
	"tmcnotebook/internal/config"
	"tmcnotebook/internal/core"
	"tmcnotebook/internal/geometry"
	"tmcnotebook/internal/logging"
	"tmcnotebook/internal/notebook"
	"tmcnotebook/internal/resolution"
	"tmcnotebook/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, clock: time.Now}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(context.Background())
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "tmcnotebook: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tmcnotebook",
		Short:         "Manage a notebook of TMC road-network map cells",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("TMCNOTEBOOK_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "write registry spans as JSON lines to stderr")
	root.PersistentFlags().StringVar(&a.metricsPath, "metrics", "", "write collected metrics in Prometheus text format to this file on exit")
	root.AddCommand(
		newCreateCommand(a),
		newSetCommand(a),
		newListCommand(a),
		newRemoveCommand(a),
		newValidateCommand(a),
		newChainCommand(a),
		newResolveCommand(a),
		newFeaturesCommand(a),
		newCandidatesCommand(a),
		newAddLayerCommand(a),
		newSetLayerCommand(a),
		newLayerFeaturesCommand(a),
		newCrossYearCommand(a),
		newExportCommand(a),
		newImportCommand(a),
		newArchivesCommand(a),
	)
	return root
}

// app holds the lazily opened runtime shared by every subcommand.
type app struct {
	stdout      io.Writer
	stderr      io.Writer
	configPath  string
	metricsPath string
	clock       func() time.Time
	trace       bool

	cfg      config.Config
	logger   *zap.Logger
	metrics  *prometheus.Registry
	store    domain.RecordStore
	registry *core.Registry
	session  *notebook.Session
	client   *resolution.Client
	cache    *geometry.Cache
}

func (a *app) loadConfig() error {
	if a.logger != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.metrics = prometheus.NewRegistry()
	return nil
}

// openRegistry loads the configured record store into a registry.
func (a *app) openRegistry(ctx context.Context) (*core.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	if err := a.loadConfig(); err != nil {
		return nil, err
	}
	recorder, err := core.NewPrometheusMetricsRecorder(a.metrics)
	if err != nil {
		return nil, err
	}
	store, err := core.OpenRecordStore(a.cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	opts := []core.Option{
		core.WithLogger(logging.NewAdapter(a.logger)),
		core.WithMetrics(recorder),
	}
	if a.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(a.stderr)))
	}
	reg, err := core.Open(ctx, store, opts...)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	a.store = store
	a.registry = reg
	return reg, nil
}

// openSession wires the registry to the resolution service and geometry cache.
func (a *app) openSession(ctx context.Context) (*notebook.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	reg, err := a.openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	logger := logging.NewAdapter(a.logger.Named("resolution"))
	clientMetrics, err := resolution.NewMetrics(a.metrics)
	if err != nil {
		return nil, err
	}
	client, err := resolution.NewClient(a.cfg.API.URL,
		resolution.WithTimeout(a.cfg.API.Timeout),
		resolution.WithMetrics(clientMetrics),
		resolution.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	cacheMetrics, err := geometry.NewMetrics(a.metrics)
	if err != nil {
		return nil, err
	}
	cache, err := geometry.New(client, a.cfg.Cache.Capacity, geometry.WithMetrics(cacheMetrics))
	if err != nil {
		return nil, err
	}
	a.client = client
	a.cache = cache
	a.session = notebook.NewSession(reg, client, cache, notebook.WithLogger(logger))
	return a.session, nil
}

func (a *app) openArchive(ctx context.Context) (archive.Store, error) {
	if err := a.loadConfig(); err != nil {
		return nil, err
	}
	return archive.Open(ctx, a.cfg.ArchiveConfig())
}

func (a *app) now() time.Time { return a.clock().UTC() }

func (a *app) close() error {
	var errs []error
	if a.session != nil {
		a.session.Close()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.metricsPath != "" && a.metrics != nil {
		if err := prometheus.WriteToTextfile(a.metricsPath, a.metrics); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.logger != nil {
		// Sync on stderr fails with EINVAL on some platforms.
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
