package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thinkscotty/glimpse/internal/ai"
	"github.com/thinkscotty/glimpse/internal/batch"
	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/distill"
	"github.com/thinkscotty/glimpse/internal/imagegen"
	"github.com/thinkscotty/glimpse/internal/journal"
	"github.com/thinkscotty/glimpse/internal/library"
	"github.com/thinkscotty/glimpse/internal/models"
	"github.com/thinkscotty/glimpse/internal/studio"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: glimpse [flags] <command> [command flags]

Commands:
  summarize   Distill every text file in the library into the JSON mappings
  generate    Render the image for one described file
  studio      Serve the interactive image console
  runs        List recent summarize runs from the journal

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Glimpse %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "summarize":
		err = runSummarize(ctx, cfg, args)
	case "generate":
		err = runGenerate(ctx, cfg, args)
	case "studio":
		err = runStudio(ctx, cfg)
	case "runs":
		err = runHistory(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// journalPath resolves a relative journal path against the library directory.
func journalPath(cfg config.Config) string {
	p := cfg.Journal.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.Library.Dir, p)
}

func runSummarize(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	watch := fs.Duration("watch", 0, "Re-run the pass at this interval until interrupted")
	fs.Parse(args)

	if err := cfg.Validate(config.PipelineSummarize); err != nil {
		return err
	}

	// Only the chat strategy gets a client; a typed nil would defeat the
	// strategy's missing-client check.
	var completer distill.Completer
	if cfg.Distill.Strategy == distill.StrategyChat {
		provider, err := ai.NewProvider(cfg.Chat, cfg.APIKey)
		if err != nil {
			return err
		}
		completer = ai.NewClient(provider, cfg.Chat)
	}

	strategy, err := distill.New(cfg, completer)
	if err != nil {
		return err
	}

	j, err := journal.Open(journalPath(cfg))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	runner, err := batch.New(cfg, strategy, j)
	if err != nil {
		return err
	}

	slog.Info("Starting Glimpse", "version", version, "command", "summarize", "strategy", strategy.Name(), "dir", cfg.Library.Dir)

	if *watch > 0 {
		runner.Watch(ctx, *watch)
		return nil
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	printReport(os.Stdout, report)
	return nil
}

func runGenerate(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	file := fs.String("file", "", "Library file whose description drives the image")
	fs.Parse(args)

	if err := cfg.Validate(config.PipelineGenerate); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("generate requires -file")
	}

	driver, err := newDriver(cfg)
	if err != nil {
		return err
	}

	slog.Info("Starting Glimpse", "version", version, "command", "generate", "file", *file)

	bar := newProgressBar(os.Stderr, 30)
	path, err := driver.Generate(ctx, *file, bar.update)
	bar.finish()
	if errors.Is(err, imagegen.ErrUnknownFile) {
		slog.Warn("No description for file, nothing to generate", "file", *file)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runStudio(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(config.PipelineGenerate); err != nil {
		return err
	}

	driver, err := newDriver(cfg)
	if err != nil {
		return err
	}
	catalog := driver.Catalog()
	if len(catalog.Names()) == 0 {
		slog.Warn("No descriptions found, the studio dropdown will be empty", "dir", cfg.Library.Dir)
	}

	shell := studio.NewShell(driver, catalog.Names())
	srv := studio.New(cfg.Server, shell, catalog, version)

	slog.Info("Starting Glimpse", "version", version, "command", "studio")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return shell.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runHistory(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("n", 10, "Number of runs to list")
	fs.Parse(args)

	path := journalPath(cfg)
	if path == "" {
		return errors.New("journal disabled (journal.path is empty)")
	}
	db, err := journal.New(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()

	runs, err := db.RecentRuns(*limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	printRuns(os.Stdout, db.Path(), runs)
	return nil
}

func printRuns(w io.Writer, path string, runs []models.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs recorded in %s.\n", path)
		return
	}
	fmt.Fprintf(w, "Runs in %s:\n", path)
	for _, r := range runs {
		finished := "running"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s  %s  %-9s  processed=%d cached=%d failed=%d skipped=%d  %s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Strategy,
			r.Processed, r.Cached, r.Failed, r.Skipped, finished)
	}
}

func newDriver(cfg config.Config) (*imagegen.Driver, error) {
	catalog, err := library.OpenCatalog(cfg.Library.Dir)
	if err != nil {
		return nil, err
	}
	backend := imagegen.NewWebUIBackend(cfg.Diffusion)
	return imagegen.NewDriver(backend, catalog, cfg.Diffusion, cfg.Caption), nil
}

func printReport(w io.Writer, r models.RunReport) {
	fmt.Fprintf(w, "%d documents: %d processed, %d cached, %d failed, %d skipped in %s\n",
		r.Documents, r.Processed, r.Cached, r.Failed, r.Skipped, r.Duration().Round(time.Millisecond))
	for _, f := range r.Failures {
		if f.Category != "" {
			fmt.Fprintf(w, "  %s [%s]: %s\n", f.Document, f.Category, f.Error)
		} else {
			fmt.Fprintf(w, "  %s: %s\n", f.Document, f.Error)
		}
	}
}

type progressBar struct {
	w     io.Writer
	width int
	drawn bool
}

func newProgressBar(w io.Writer, width int) *progressBar {
	return &progressBar{w: w, width: width}
}

func (b *progressBar) update(p imagegen.Progress) {
	filled := int(p.Fraction() * float64(b.width))
	fmt.Fprintf(b.w, "\r[%s%s] %d/%d",
		strings.Repeat("#", filled), strings.Repeat(".", b.width-filled), p.Step, p.Total)
	b.drawn = true
}

func (b *progressBar) finish() {
	if b.drawn {
		fmt.Fprintln(b.w)
	}
}
