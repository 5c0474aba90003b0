package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/QTest-hq/qtest-engine/internal/api"
	"github.com/QTest-hq/qtest-engine/internal/browser"
	"github.com/QTest-hq/qtest-engine/internal/config"
	"github.com/QTest-hq/qtest-engine/internal/engine"
	"github.com/QTest-hq/qtest-engine/internal/fsys"
	"github.com/QTest-hq/qtest-engine/internal/logging"
	"github.com/QTest-hq/qtest-engine/internal/nats"
	"github.com/QTest-hq/qtest-engine/internal/reporting"
	"github.com/QTest-hq/qtest-engine/internal/runner"
	"github.com/QTest-hq/qtest-engine/internal/state"
	"github.com/QTest-hq/qtest-engine/internal/urlmapper"
	"github.com/QTest-hq/qtest-engine/internal/users"
)

// runDirLayout names the per-run results directory
const runDirLayout = "2006-01-02T15-04-05"

// errTestsFailed makes the process exit non-zero without extra output
var errTestsFailed = errors.New("one or more tests failed")

type runOptions struct {
	planRef     string
	outputDir   string
	domain      string
	queryParams string
	statusAddr  string
	natsURL     string
	logLevel    string
	user        string
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a test plan in every configured browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			opts.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			zerolog.SetGlobalLevel(cfg.Level())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			plan, err := loadPlan(ctx, cfg, opts.planRef)
			if err != nil {
				return err
			}

			return runPlan(ctx, cfg, plan, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.planRef, "plan", "p", "", "Test plan file or git reference")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "Results directory (default QTEST_OUTPUT_DIR)")
	cmd.Flags().StringVar(&opts.domain, "domain", "", "Host that replaces the environment host in the app URL")
	cmd.Flags().StringVar(&opts.queryParams, "query-params", "", "Extra query parameters appended to the app URL")
	cmd.Flags().StringVar(&opts.statusAddr, "status-addr", "", "Serve run status over HTTP on this address, e.g. :8089")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "Publish run events to this NATS server")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.user, "user", "", "Name recorded as the user who started the run")
	cmd.MarkFlagRequired("plan")

	return cmd
}

// apply lets flags override the environment configuration
func (o runOptions) apply(cfg *config.Config) {
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.domain != "" {
		cfg.Environment.Domain = o.domain
	}
	if o.queryParams != "" {
		cfg.Environment.QueryParams = o.queryParams
	}
	if o.statusAddr != "" {
		cfg.StatusAddr = o.statusAddr
	}
	if o.natsURL != "" {
		cfg.NATSURL = o.natsURL
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
}

// suiteFunc runs the plan's suite against one browser configuration
type suiteFunc func(ctx context.Context, runID, runDir string, bc *config.BrowserConfiguration) (runner.Counters, error)

// host wires the collaborators shared by every browser run of a plan
type host struct {
	cfg      *config.Config
	plan     *config.TestPlan
	fs       *fsys.FS
	reporter *reporting.Reporter
	logs     *logging.Provider
	now      func() time.Time

	runSuite suiteFunc
}

// newHost creates a host whose suite loggers write to logOut
func newHost(cfg *config.Config, plan *config.TestPlan, fs *fsys.FS, reporter *reporting.Reporter, logOut io.Writer) *host {
	h := &host{
		cfg:      cfg,
		plan:     plan,
		fs:       fs,
		reporter: reporter,
		logs:     logging.NewProvider(logOut, cfg.Level(), fs),
		now:      time.Now,
	}
	h.runSuite = h.runBrowserSuite
	return h
}

func runPlan(ctx context.Context, cfg *config.Config, plan *config.TestPlan, opts runOptions, out io.Writer) error {
	var reporterOpts []reporting.Option
	reporterOpts = append(reporterOpts, reporting.WithLogger(log.Logger))

	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithLogger(log.Logger))

	if cfg.NATSURL != "" {
		client, err := nats.NewClient(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.SetupStreams(ctx); err != nil {
			return fmt.Errorf("failed to set up event stream: %w", err)
		}
		reporterOpts = append(reporterOpts, reporting.WithPublisher(client))
		apiOpts = append(apiOpts, api.WithHealthCheck("nats", client))
	}

	reporter := reporting.NewReporter(reporterOpts...)

	if cfg.StatusAddr != "" {
		srv, err := api.NewServer(reporter, apiOpts...)
		if err != nil {
			return err
		}
		srvCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.StatusAddr); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	h := newHost(cfg, plan, fsys.New(), reporter, zerolog.ConsoleWriter{Out: os.Stderr})

	summary, err := h.run(ctx, opts.user)
	if err != nil {
		return err
	}

	printSummary(out, plan.TestSuite.TestSuiteName, summary)
	if summary.Failed > 0 {
		return errTestsFailed
	}
	return nil
}

// run executes every browser configuration in order and writes the reports
func (h *host) run(ctx context.Context, user string) (reporting.Summary, error) {
	runID := h.reporter.CreateTestRun(h.plan.TestSuite.TestSuiteName, user)
	if err := h.reporter.StartTestRun(runID); err != nil {
		return reporting.Summary{}, err
	}

	runDir := filepath.Join(h.cfg.OutputDir, h.now().Format(runDirLayout))
	if err := h.fs.CreateDirectory(runDir); err != nil {
		return reporting.Summary{}, fmt.Errorf("failed to create run directory: %w", err)
	}

	log.Info().
		Str("run_id", runID).
		Str("dir", runDir).
		Int("browsers", len(h.plan.TestSettings.BrowserConfigurations)).
		Msg("starting test run")

	for i := range h.plan.TestSettings.BrowserConfigurations {
		if ctx.Err() != nil {
			log.Warn().Msg("run cancelled, skipping remaining browsers")
			break
		}

		bc := &h.plan.TestSettings.BrowserConfigurations[i]
		counters, err := h.runSuite(ctx, runID, runDir, bc)
		if err != nil {
			log.Error().Err(err).Str("browser", bc.Browser).Msg("browser run failed")
			continue
		}
		log.Info().
			Str("browser", bc.Browser).
			Int("total", counters.Total).
			Int("passed", counters.Passed).
			Int("failed", counters.Failed).
			Msg("browser run complete")
	}

	if err := h.reporter.EndTestRun(runID); err != nil {
		return reporting.Summary{}, err
	}
	if err := h.reporter.GenerateReport(h.fs, runID, runDir); err != nil {
		return reporting.Summary{}, fmt.Errorf("failed to write report: %w", err)
	}

	return h.reporter.Summary(runID)
}

// runBrowserSuite builds a fresh run state and collaborator set, then runs the suite once
func (h *host) runBrowserSuite(ctx context.Context, runID, runDir string, bc *config.BrowserConfiguration) (runner.Counters, error) {
	instance := state.NewRunState()
	planState := state.NewPlanState(h.plan)

	driver := browser.NewDriver(planState, instance, h.fs, browser.WithExecPath(h.cfg.Browser.ExecPath))
	eng := engine.New(driver, planState, instance)

	r := runner.New(runner.Dependencies{
		Reporter:       h.reporter,
		LoggerProvider: h.logs,
		Engine:         eng,
		Driver:         driver,
		Users:          users.New(driver, planState, instance),
		URLMapper:      urlmapper.New(h.cfg.Environment, instance),
		FileSystem:     h.fs,
		State:          instance,
	})

	err := r.RunTest(ctx, runID, runDir, &h.plan.TestSuite, bc, h.cfg.Environment.Domain, h.cfg.Environment.QueryParams)
	if id := r.SuiteID(); id != "" {
		h.logs.Remove(id)
	}
	return r.Counters(), err
}

func printSummary(out io.Writer, suiteName string, s reporting.Summary) {
	fmt.Fprintf(out, "\n%s\n", suiteName)
	fmt.Fprintf(out, "  Total:   %d\n", s.Total)
	fmt.Fprintf(out, "  Passed:  %d\n", s.Passed)
	fmt.Fprintf(out, "  Failed:  %d\n", s.Failed)
	fmt.Fprintf(out, "  Skipped: %d\n", s.Skipped)
}
