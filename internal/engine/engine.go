package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"imageutils/internal/bitmap"
	"imageutils/internal/config"
	"imageutils/internal/dispatch"
	"imageutils/internal/fetcher"
	gh "imageutils/internal/github"
	"imageutils/internal/lifecycle"
	"imageutils/internal/loader"
	"imageutils/internal/output"
	"imageutils/internal/store"
	"imageutils/internal/transport"
)

func exitCodeForRun(fatal, partial bool) int {
	// Exit code contract:
	// 0 = every image fetched
	// 2 = partial failure (some fetches failed or were dropped)
	// 3 = fatal error (run did not start)
	if fatal {
		return 3
	}
	if partial {
		return 2
	}
	return 0
}

func setupOutputManager(cfg *config.Config, stdout io.Writer) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(stdout, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus...)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

// Engine runs one batch of fetches for the CLI.
type Engine struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	// github, when set, is used instead of resolving a token and building a
	// client for github:// locators.
	github *gh.Client
}

type Option func(*Engine)

// WithOutput redirects console and emit sinks (stdout) and progress
// messages (stderr).
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Engine) {
		if stdout != nil {
			e.stdout = stdout
		}
		if stderr != nil {
			e.stderr = stderr
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithGitHubClient(c *gh.Client) Option {
	return func(e *Engine) { e.github = c }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: slog.Default(),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(e)
		}
	}
	return e
}

// buildFetcher wires the fetch pipeline for cfg. The returned close function
// releases the persistent cache and is never nil.
func (e *Engine) buildFetcher(ctx context.Context, cfg *config.Config, plan *RunPlan) (*fetcher.Fetcher, func() error, error) {
	closeFn := func() error { return nil }

	cache, err := fetcher.NewCache(cfg.Cache.Entries)
	if err != nil {
		return nil, closeFn, err
	}

	opts := []fetcher.Option{
		fetcher.WithCache(cache),
		fetcher.WithMaxBytes(cfg.Fetch.MaxBytes),
		fetcher.WithUserAgent(cfg.Sources.HTTP.UserAgent),
		fetcher.WithLogger(e.logger),
		fetcher.WithHTTPClient(transport.NewHTTPClient(
			transport.WithVerbose(cfg.Runtime.Verbose, e.stderr),
			transport.WithLabel("http"),
			transport.WithToken(cfg.Sources.HTTP.Token),
			transport.WithTimeout(cfg.Sources.HTTP.Timeout),
		)),
	}

	if !cfg.Cache.Disabled {
		st, err := store.Open(cfg.Cache.Dir, store.WithTTL(cfg.Cache.TTL))
		if err != nil {
			// Memory-only from here on.
			e.logger.Warn("persistent cache unavailable", "dir", cfg.Cache.Dir, "error", err)
		} else {
			opts = append(opts, fetcher.WithStore(st))
			closeFn = st.Close
		}
	}

	if client := e.githubClient(ctx, cfg, plan); client != nil {
		opts = append(opts, fetcher.WithGitHubClient(client))
	}

	return fetcher.NewFetcher(opts...), closeFn, nil
}

// githubClient returns nil when no github:// locator is planned or the source
// is disabled. A failed token lookup falls back to anonymous access.
func (e *Engine) githubClient(ctx context.Context, cfg *config.Config, plan *RunPlan) *gh.Client {
	if e.github != nil {
		return e.github
	}
	if cfg.Sources.GitHub.Disabled || !plan.Uses(fetcher.SchemeGitHub) {
		return nil
	}

	token, source, err := gh.ResolveAuthToken(ctx, cfg.Sources.GitHub.Token)
	if err != nil {
		e.logger.Warn("github token lookup failed; using anonymous access", "error", err)
		token = ""
	}
	if token == "" {
		e.logger.Info("github source is unauthenticated; rate limits are low")
	} else {
		e.logger.Debug("github token resolved", "source", string(source))
	}

	client, err := gh.NewClient(ctx, token,
		gh.WithVerbose(cfg.Runtime.Verbose, e.stderr),
		gh.WithBaseURL(cfg.Sources.GitHub.BaseURL),
		gh.WithTimeout(cfg.Sources.HTTP.Timeout),
	)
	if err != nil {
		e.logger.Warn("github client unavailable", "error", err)
		return nil
	}
	return client
}

type runSummary struct {
	succeeded, failed, dropped int
}

func (s *runSummary) add(st output.Status) {
	switch st {
	case output.StatusOK:
		s.succeeded++
	case output.StatusFailed:
		s.failed++
	case output.StatusDropped:
		s.dropped++
	}
}

// Run fetches every locator of cfg and reports each outcome to the configured
// sinks. cfg must already be validated.
//
// All results are delivered on a single dispatch loop and gated by a
// lifecycle owner that is destroyed when ctx ends or the run timeout expires,
// so loads still in flight at that point are reported as dropped.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	if ctx == nil || cfg == nil {
		fmt.Fprintln(e.stderr, "Error: engine needs a context and a config")
		return exitCodeForRun(true, false)
	}

	plan, err := NewRunPlan(cfg)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error planning run: %v\n", err)
		return exitCodeForRun(true, false)
	}

	outMgr, err := setupOutputManager(cfg, e.stdout)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error creating output sinks: %v\n", err)
		return exitCodeForRun(true, false)
	}
	defer outMgr.Close()

	f, closeFetcher, err := e.buildFetcher(ctx, cfg, plan)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error creating fetcher: %v\n", err)
		return exitCodeForRun(true, false)
	}
	defer func() {
		if err := closeFetcher(); err != nil {
			e.logger.Warn("close persistent cache", "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()

	loop := dispatch.NewLoop(dispatch.WithLogger(e.logger))
	go func() { _ = loop.Run(context.Background()) }()
	defer func() {
		loop.Close()
		<-loop.Done()
	}()

	owner := lifecycle.NewOwner()
	owner.Start()
	owner.Resume()
	stopWatch := context.AfterFunc(runCtx, func() {
		e.logger.Debug("run context ended; undelivered results will be dropped", "cause", context.Cause(runCtx))
		owner.Destroy()
	})
	defer stopWatch()

	ld, err := loader.New(f, loop,
		loader.WithOutputDir(cfg.Fetch.OutputDir),
		loader.WithTimeout(cfg.Fetch.Timeout),
		loader.WithBaseContext(runCtx),
		loader.WithLogger(e.logger),
	)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error creating loader: %v\n", err)
		return exitCodeForRun(true, false)
	}

	scheduler, err := NewScheduler(ld, cfg.Runtime.Concurrency, plan.Save)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error creating scheduler: %v\n", err)
		return exitCodeForRun(true, false)
	}

	var fb *fallback
	if cfg.Fetch.Fallback != "" && plan.Save {
		fb = newFallback(ld, cfg.Fetch.Fallback, cfg.Fetch.OutputDir)
	}

	if !cfg.Output.NoConsole {
		fmt.Fprintf(e.stderr, "Fetching %d image(s) from %s...\n", len(plan.Jobs), describeSchemes(plan.Schemes()))
	}
	_ = outMgr.Write(output.Event{Type: output.EventRunStarted, Requests: len(plan.Jobs)})

	var sum runSummary
	for c := range scheduler.Execute(runCtx, plan.Jobs, owner) {
		res := e.resultFor(ctx, runCtx, c, plan, fb)
		sum.add(res.Status)
		_ = outMgr.Write(res)
	}
	owner.Destroy()

	code := exitCodeForRun(false, sum.failed > 0 || sum.dropped > 0)
	_ = outMgr.Write(output.Event{
		Type:      output.EventRunFinished,
		Requests:  len(plan.Jobs),
		Succeeded: sum.succeeded,
		Failed:    sum.failed,
		Dropped:   sum.dropped,
		ExitCode:  code,
	})
	return code
}

// endedWithRun reports whether err is the run context's own cancellation
// reaching a fetch before the owner was destroyed.
func endedWithRun(runCtx context.Context, err error) bool {
	if runCtx.Err() == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (e *Engine) resultFor(ctx, runCtx context.Context, c Completion, plan *RunPlan, fb *fallback) output.Result {
	locator := c.Job.Request.Locator()
	res := output.Result{
		Locator:    locator,
		DurationMS: c.Duration.Milliseconds(),
	}
	if loc, err := fetcher.ParseLocator(locator); err == nil {
		res.Source = loc.Scheme
	}

	switch {
	case c.Outcome == loader.OutcomeDropped:
		res.Status = output.StatusDropped

	case c.Err != nil && endedWithRun(runCtx, c.Err):
		res.Status = output.StatusDropped
		e.logger.Debug("fetch dropped at end of run", "locator", locator, "error", c.Err)

	case c.Err != nil:
		res.Status = output.StatusFailed
		res.Error = c.Err.Error()
		e.logger.Info("fetch failed", "locator", locator, "error", c.Err)
		if fb != nil {
			path, err := fb.write(ctx, c.Job.Request)
			if err != nil {
				e.logger.Warn("fallback image not written", "locator", locator, "error", err)
			} else {
				res.Fallback = path
			}
		}

	default:
		res.Status = output.StatusOK
		switch {
		case c.Image != nil:
			res.Width = c.Image.Bounds().Dx()
			res.Height = c.Image.Bounds().Dy()
		case c.Path != "":
			res.Path = c.Path
			res.Format = string(plan.Format)
			if w, h, err := bitmap.Dimensions(c.Path); err == nil {
				res.Width, res.Height = w, h
			}
		}
	}
	return res
}

func describeSchemes(schemes []string) string {
	if len(schemes) == 0 {
		return "no valid sources"
	}
	return strings.Join(schemes, ", ")
}
