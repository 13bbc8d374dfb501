// scope-advice classifies the synchronization fences of GPU kernel traces,
// captured on disk or read live from a pinned BPF ring buffer, and reports
// which ones can be weakened or removed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/scope-advice/internal/analysis"
	"github.com/mrzor/scope-advice/internal/attributes"
	"github.com/mrzor/scope-advice/internal/channel"
	"github.com/mrzor/scope-advice/internal/config"
	"github.com/mrzor/scope-advice/internal/otel"
	"github.com/mrzor/scope-advice/internal/output"
	"github.com/mrzor/scope-advice/internal/sweep"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup function.
// Without a configured endpoint it returns a nil tracer.
func setupOTEL(versionInfo string) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	if !otelCfg.Enabled() {
		return nil, func() {}, nil
	}

	tp, err := otel.InitProvider(otelCfg, versionInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			log.Printf("Error shutting down OTEL provider: %v", err)
		}
	}

	return tp.Tracer("scope-advice"), cleanup, nil
}

// environ returns the process environment as a map for the expressions.
func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// setupHandlers builds the report handlers: text on stdout, plus spans when
// a tracer is available.
func setupHandlers(cfg *config.Config, opts *config.Options, tracer trace.Tracer, filter *attributes.Filter) (text, spans output.ReportHandler, err error) {
	text = output.NewTextFormatter(os.Stdout, filter, opts.Verbose)
	if tracer == nil {
		return text, nil, nil
	}

	formatter, err := output.NewOTELFormatter(
		tracer,
		cfg.Path,
		environ(),
		cfg.CustomAttributes,
		cfg.TraceID,
		cfg.ParentID,
		filter,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTEL formatter: %w", err)
	}
	return text, formatter, nil
}

func replay(ctx context.Context, cfg *config.Config, opts *config.Options, handler output.ReportHandler) error {
	return analysis.ReplayFile(ctx, *opts, cfg.Path, handler.HandleReport)
}

func live(ctx context.Context, cfg *config.Config, opts *config.Options, handler output.ReportHandler) (err error) {
	liveCfg, err := config.ParseLiveConfig()
	if err != nil {
		return err
	}
	sites, err := liveCfg.SiteMap()
	if err != nil {
		return err
	}

	src, err := channel.OpenPinnedRingbuf(cfg.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	kernel := analysis.Kernel{
		Name:            liveCfg.Kernel,
		Threads:         liveCfg.Threads,
		ThreadsPerBlock: liveCfg.ThreadsPerBlock,
		Sites:           sites,
	}
	log.Printf("reading %s until interrupted", cfg.Path)
	rep, err := analysis.Live(ctx, *opts, kernel, src)
	if rep != nil {
		if herr := handler.HandleReport(rep); herr != nil {
			return errors.Join(err, herr)
		}
	}
	if n := src.Short(); n > 0 {
		log.Printf("warning: dropped %d short samples", n)
	}
	return err
}

func runSweep(ctx context.Context, cfg *config.Config, opts *config.Options, filter *attributes.Filter, spans output.ReportHandler) error {
	sweepCfg, err := sweep.LoadConfig(cfg.Path)
	if err != nil {
		return err
	}

	runner := sweep.NewRunner(*opts, filter)
	if spans != nil {
		runner.OnReport = spans.HandleReport
	}
	results, err := runner.Run(ctx, sweepCfg)
	for _, res := range results {
		if werr := res.Write(os.Stdout); werr != nil {
			return werr
		}
	}
	return err
}

func run() error {
	opts, err := config.ParseOptions()
	if err != nil {
		return err
	}

	cfg, err := config.ParseArgs(os.Args, opts.Attributes)
	if err != nil {
		return err
	}

	if opts.Verbose >= 1 {
		log.Printf("Starting scope-advice %s (commit: %s)", version, commit)
	}

	filter, err := attributes.NewFilter(opts.ReportFilter)
	if err != nil {
		return err
	}

	tracer, cleanupOTEL, err := setupOTEL(fmt.Sprintf("%s (%s)", version, commit))
	if err != nil {
		return err
	}
	defer cleanupOTEL()

	text, spans, err := setupHandlers(cfg, opts, tracer, filter)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Command == config.CommandSweep {
		return runSweep(ctx, cfg, opts, filter, spans)
	}

	handler := output.Tee{text}
	if spans != nil {
		handler = append(handler, spans)
	}
	if cfg.Command == config.CommandLive {
		return live(ctx, cfg, opts, handler)
	}
	return replay(ctx, cfg, opts, handler)
}
