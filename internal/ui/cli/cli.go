// Package cli is the nsmigrate command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	coreapp "nsmigrate/internal/core/app"
	"nsmigrate/internal/core/config"
	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/shared/observability"
	"nsmigrate/internal/ui/report"
)

const Version = "1.0.0"

// Exit codes beyond the usual 0/1.
const (
	ExitUsage    = 2
	ExitBlocked  = 3
	ExitVerifyKO = 4
)

// ExitError carries a specific process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type globalOptions struct {
	configPath  string
	verbose     bool
	format      string
	metricsAddr string
	noColor     bool
}

// session is what every subcommand needs once flags are parsed.
type session struct {
	opts    globalOptions
	cfg     *config.Config
	cfgPath string
	app     *coreapp.App
	format  report.Format
	out     io.Writer

	closers []func(context.Context) error
}

func (s *session) render(v any) error {
	return report.Write(s.out, v, report.Options{Format: s.format, Version: Version, Plain: s.opts.noColor})
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}
	s.closers = nil
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nsmigrate:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if domainerrors.CodeOf(err) == domainerrors.CodeValidationError {
		return ExitUsage
	}
	return 1
}

// NewRootCmd builds the command tree writing results to out.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	s := &session{out: out}

	cmd := &cobra.Command{
		Use:   "nsmigrate",
		Short: "Plan and run javax to jakarta namespace migrations",
		Long: `nsmigrate analyzes a JVM project for legacy javax.* usage, builds a
four-phase migration plan, executes it through an external rewriter with
checkpoints, and verifies the result by running the built artifact.

Examples:
  nsmigrate analyze ./shop                # classify dependencies and usages
  nsmigrate analyze --ui ./shop           # live watch dashboard
  nsmigrate plan ./shop --format markdown # phased plan
  nsmigrate execute ./shop                # run or resume the migration
  nsmigrate verify -p ./shop app.jar      # run the artifact and analyze failures
  nsmigrate rollback ./shop 3             # undo phase 3 and later`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.open(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&s.opts.configPath, "config", "c", "", "Path to config file (default: nearest "+config.DefaultFile+")")
	flags.BoolVarP(&s.opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVarP(&s.opts.format, "format", "f", "text", "Output format: text, markdown, json or yaml")
	flags.StringVar(&s.opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address")
	flags.BoolVar(&s.opts.noColor, "no-color", false, "Disable styled text output")

	cmd.AddCommand(
		analyzeCmd(s),
		planCmd(s),
		executeCmd(s),
		verifyCmd(s),
		rollbackCmd(s),
		skipCmd(s),
		statusCmd(s),
		completeCmd(s),
	)

	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})
	return cmd
}

// wrap closes the session once the command body returns, whether or not
// it failed. Cobra skips post-run hooks on error.
func (s *session) wrap(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer s.close()
		return fn(cmd, args)
	}
}

func (s *session) open(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	format, err := report.ParseFormat(s.opts.format)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	s.format = format

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("detect working directory: %w", err)
	}
	cfg, cfgPath, err := loadConfig(s.opts.configPath, cwd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s.cfg, s.cfgPath = cfg, cfgPath

	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, closeErr(configureLogging(os.Stderr, paths.LogFile, s.opts.verbose)))
	if cfgPath != "" {
		slog.Debug("config loaded", "path", cfgPath)
	}

	shutdown, err := observability.InitTracing(ctx, cfg.Observability.OTLPEndpoint, Version)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, shutdown)

	app, err := coreapp.New(cfg)
	if err != nil {
		return err
	}
	s.app = app

	addr := s.opts.metricsAddr
	if addr == "" {
		addr = cfg.Observability.MetricsAddr
	}
	if addr != "" {
		srv := NewObservabilityServer(addr, coreapp.NewHealthService(app))
		if err := srv.Start(ctx); err != nil {
			return err
		}
		s.closers = append(s.closers, srv.Stop)
	}
	return nil
}

func closeErr(fn func()) func(context.Context) error {
	return func(context.Context) error {
		fn()
		return nil
	}
}

// loadConfig reads an explicit path, or the nearest nsmigrate.toml above
// cwd, or falls back to defaults. Environment overrides apply last.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	if path == "" {
		if found, ok := config.FindConfig(cwd); ok {
			path = found
		}
	}
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}
	config.ApplyEnvOverrides(cfg)
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, "", errors.Join(errs...)
	}
	return cfg, path, nil
}
