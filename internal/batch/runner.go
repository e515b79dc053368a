// Package batch runs a distillation strategy over every document in the
// library and writes the per-category JSON mappings.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/distill"
	"github.com/thinkscotty/glimpse/internal/journal"
	"github.com/thinkscotty/glimpse/internal/library"
	"github.com/thinkscotty/glimpse/internal/metrics"
	"github.com/thinkscotty/glimpse/internal/models"
	"github.com/thinkscotty/glimpse/internal/retry"
)

// ErrBusy is returned by Run while another pass is in progress.
var ErrBusy = errors.New("a batch pass is already running")

type Runner struct {
	strategy   distill.Strategy
	signature  string
	journal    journal.Journal
	dir        string
	extensions []string
	categories []models.Category
	policy     retry.Policy
	pushURL    string
	pushJob    string
	mu         sync.Mutex
}

// New builds a runner from cfg. The journal may be journal.Nop{}.
func New(cfg config.Config, s distill.Strategy, j journal.Journal) (*Runner, error) {
	cats, err := cfg.DistillCategories()
	if err != nil {
		return nil, err
	}
	if j == nil {
		j = journal.Nop{}
	}
	return &Runner{
		strategy:   s,
		signature:  distill.SignatureOf(s),
		journal:    j,
		dir:        cfg.Library.Dir,
		extensions: cfg.Library.Extensions,
		categories: cats,
		policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay(),
			MaxDelay:    cfg.Retry.MaxDelay(),
		},
		pushURL: cfg.Metrics.PushgatewayURL,
		pushJob: cfg.Metrics.Job,
	}, nil
}

// Run makes one sequential pass over the library. Each result is checkpointed
// as soon as it is produced; the mappings are written once the pass completes.
func (r *Runner) Run(ctx context.Context) (models.RunReport, error) {
	if !r.mu.TryLock() {
		return models.RunReport{}, ErrBusy
	}
	defer r.mu.Unlock()

	report := models.RunReport{Strategy: r.strategy.Name(), Started: time.Now()}

	entries, err := library.Scan(r.dir, r.extensions)
	if err != nil {
		return report, err
	}
	report.Documents = len(entries)

	runID, err := r.journal.StartRun(r.strategy.Name())
	if err != nil {
		return report, err
	}
	report.RunID = runID

	slog.Info("Batch pass started", "run", runID, "strategy", report.Strategy, "documents", len(entries), "dir", r.dir)

	mappings := make(map[models.Category]library.Mapping, len(r.categories))
	for _, cat := range r.categories {
		mappings[cat] = library.Mapping{}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		doc, err := library.Read(entry)
		if err != nil {
			slog.Warn("Skipping unreadable document", "file", entry.Name, "error", err)
			report.Skipped++
			report.Failures = append(report.Failures, models.Failure{Document: entry.Name, Error: err.Error()})
			metrics.DocumentsTotal.WithLabelValues(string(models.OutcomeSkipped)).Inc()
			continue
		}

		outcome, err := r.processDocument(ctx, runID, doc, mappings, &report)
		if err != nil {
			return report, err
		}
		switch outcome {
		case models.OutcomeFailed:
			report.Failed++
		case models.OutcomeCached:
			report.Cached++
		default:
			report.Processed++
		}
		metrics.DocumentsTotal.WithLabelValues(string(outcome)).Inc()
	}

	for _, cat := range r.categories {
		path := library.MappingPath(r.dir, cat)
		if err := library.SaveMapping(path, mappings[cat]); err != nil {
			return report, fmt.Errorf("write %s: %w", cat.FileName(), err)
		}
		slog.Debug("Mapping written", "file", path, "entries", len(mappings[cat]))
	}

	report.Finished = time.Now()
	if err := r.journal.FinishRun(report); err != nil {
		slog.Warn("Failed to close run in journal", "run", runID, "error", err)
	}
	if err := metrics.Push(ctx, r.pushURL, r.pushJob); err != nil {
		slog.Warn("Failed to push metrics", "error", err)
	}

	slog.Info("Batch pass finished", "run", runID,
		"processed", report.Processed, "cached", report.Cached,
		"failed", report.Failed, "skipped", report.Skipped,
		"duration", report.Duration().Round(time.Millisecond))
	return report, nil
}

// processDocument produces every category for doc. A category that fails
// does not prevent the others from being produced.
func (r *Runner) processDocument(ctx context.Context, runID string, doc models.Document, mappings map[models.Category]library.Mapping, report *models.RunReport) (models.Outcome, error) {
	// Settings that change the output are part of the key, so a config
	// change invalidates earlier results.
	fp := journal.Fingerprint(r.signature, doc.Text)
	failed, fresh := false, false

	for _, cat := range r.categories {
		res, err := r.produce(ctx, runID, doc, cat, fp)
		if err != nil {
			return "", err
		}
		switch res.Outcome {
		case models.OutcomeOK:
			fresh = true
			mappings[cat][doc.Name] = res.Text
		case models.OutcomeCached:
			mappings[cat][doc.Name] = res.Text
		case models.OutcomeFailed:
			failed = true
			report.Failures = append(report.Failures, models.Failure{Document: doc.Name, Category: cat, Error: res.Error})
		}
	}

	switch {
	case failed:
		return models.OutcomeFailed, nil
	case fresh:
		return models.OutcomeOK, nil
	default:
		return models.OutcomeCached, nil
	}
}

// produce returns the result for one document/category, from the journal when
// the text and strategy settings are unchanged, otherwise from the strategy
// under the retry policy.
// The returned error is only set when ctx ended.
func (r *Runner) produce(ctx context.Context, runID string, doc models.Document, cat models.Category, fp string) (models.DocumentResult, error) {
	name := r.strategy.Name()
	res := models.DocumentResult{Document: doc.Name, Category: cat, Strategy: name}

	cached, hit, err := r.journal.Lookup(doc.Name, cat, name, fp)
	if err != nil {
		slog.Warn("Journal lookup failed", "file", doc.Name, "category", cat, "error", err)
	} else if hit {
		res.Outcome = models.OutcomeCached
		res.Text = cached
		return res, nil
	}

	var out string
	attempts, err := retry.Do(ctx, r.policy, "distill_"+name, func(ctx context.Context) error {
		var err error
		out, err = r.strategy.Produce(ctx, doc.Text, cat)
		return err
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	res.Attempts = attempts
	if err != nil {
		slog.Error("Failed to distill document", "file", doc.Name, "category", cat, "attempts", attempts, "error", err)
		res.Outcome = models.OutcomeFailed
		res.Error = err.Error()
	} else {
		res.Outcome = models.OutcomeOK
		res.Text = out
	}

	if err := r.journal.Record(runID, journal.Entry{
		Filename:    doc.Name,
		Category:    cat,
		Strategy:    name,
		Fingerprint: fp,
		Result:      res.Text,
		Status:      res.Outcome,
		Error:       res.Error,
		Attempts:    attempts,
	}); err != nil {
		slog.Warn("Failed to checkpoint result", "file", doc.Name, "category", cat, "error", err)
	}
	return res, nil
}

// Watch runs a pass immediately and then every interval until ctx ends.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Watching library", "dir", r.dir, "interval", interval)

	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watch stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Panic in batch pass", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	if _, err := r.Run(ctx); err != nil {
		switch {
		case errors.Is(err, ErrBusy):
			slog.Debug("Previous pass still running, skipping")
		case ctx.Err() != nil:
		default:
			slog.Error("Batch pass failed", "error", err)
		}
	}
}
