package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/docmgr/docstore/config"
	"github.com/docmgr/docstore/instrument"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Site       string
	Format     string // "json" | "text"

	// Open opens the configured backend. Defaults to [OpenBackend].
	Open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the docstore CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: OpenBackend})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docstore",
		Short: "Document, tag and action store",
		Long:  "Inspect and operate a docstore table: search documents by tag, list and drive actions, manage locks.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Site, "site", "", "site id (overrides the configured site)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewDocumentsCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewActionsCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))

	return cmd
}

// session is what a command needs to run against the configured backend.
type session struct {
	cfg     config.Config
	site    string
	logger  *zap.Logger
	backend *Backend
	metrics *prometheus.Registry
	out     *OutputFormatter
}

// openSession loads the configuration, builds the logger and opens the
// backend. The returned session must be closed.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, err
	}

	open := opts.Open
	if open == nil {
		open = OpenBackend
	}

	backend, err := open(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}

	metrics := prometheus.NewRegistry()

	instrumentOpts := []instrument.Option{
		instrument.WithRegisterer(metrics),
		instrument.WithLogger(logger),
	}

	if b := cfg.Breaker; b.Enabled {
		instrumentOpts = append(instrumentOpts, instrument.WithCircuitBreaker(instrument.BreakerSettings{
			MinRequests:  b.MinRequests,
			FailureRatio: b.FailureRatio,
			Interval:     b.Interval,
			Timeout:      b.Timeout,
			MaxRequests:  b.MaxRequests,
		}))
	}

	instrumented, err := instrument.New(backend.Store, instrumentOpts...)
	if err != nil {
		_ = backend.Close(cmd.Context())
		_ = logger.Sync()
		return nil, err
	}

	backend.Store = instrumented

	site := cfg.Site
	if opts.Site != "" {
		site = opts.Site
	}

	return &session{
		cfg:     cfg,
		site:    site,
		logger:  logger,
		backend: backend,
		metrics: metrics,
		out:     &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

func (s *session) close(ctx context.Context) {
	s.logStoreCalls()

	if err := s.backend.Close(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to close backend", zap.Error(err))
	}

	_ = s.logger.Sync()
}

// run opens a session, calls fn and closes the session again.
func run(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}

	defer s.close(cmd.Context())

	return fn(cmd.Context(), s)
}

// logStoreCalls logs how many store calls the command made, per operation
// and result.
func (s *session) logStoreCalls() {
	families, err := s.metrics.Gather()
	if err != nil {
		s.logger.Warn("Failed to gather store metrics", zap.Error(err))
		return
	}

	for _, family := range families {
		if family.GetName() != "docstore_store_calls_total" {
			continue
		}

		for _, m := range family.GetMetric() {
			fields := make([]zap.Field, 0, len(m.GetLabel())+1)
			for _, label := range m.GetLabel() {
				fields = append(fields, zap.String(label.GetName(), label.GetValue()))
			}

			fields = append(fields, zap.Float64("calls", m.GetCounter().GetValue()))
			s.logger.Debug("Store calls", fields...)
		}
	}
}
