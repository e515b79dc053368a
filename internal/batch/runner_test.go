package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/distill"
	"github.com/thinkscotty/glimpse/internal/journal"
	"github.com/thinkscotty/glimpse/internal/library"
	"github.com/thinkscotty/glimpse/internal/models"
	"github.com/thinkscotty/glimpse/internal/retry"
)

type mockStrategy struct {
	mock.Mock
}

func (m *mockStrategy) Name() string { return "mock" }

func (m *mockStrategy) Produce(ctx context.Context, text string, cat models.Category) (string, error) {
	args := m.Called(ctx, text, cat)
	return args.String(0), args.Error(1)
}

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Library.Dir = dir
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, BaseDelayMillis: 1, MaxDelayMillis: 2}
	cfg.Journal.Path = ""
	return cfg
}

func writeDoc(t *testing.T, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
}

func frequencyRunner(t *testing.T, cfg config.Config, j journal.Journal) *Runner {
	t.Helper()
	s, err := distill.New(cfg, nil)
	require.NoError(t, err)
	r, err := New(cfg, s, j)
	require.NoError(t, err)
	return r
}

func TestRunWritesOneEntryPerDocument(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "The cat sat on the mat. The cat slept.")
	writeDoc(t, dir, "b.TXT", "Rockets need fuel. Fuel is heavy.")
	writeDoc(t, dir, "notes.md", "ignored markdown")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	report, err := frequencyRunner(t, testConfig(t, dir), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.Failed)

	for _, cat := range models.AllCategories {
		m, err := library.LoadMapping(library.MappingPath(dir, cat))
		require.NoError(t, err)
		assert.Len(t, m, 2, cat)
		assert.Contains(t, m, "a.txt")
		assert.Contains(t, m, "b.TXT")
	}

	summaries, _ := library.LoadMapping(library.MappingPath(dir, models.CategorySummary))
	assert.Equal(t, "cat mat sat slept", summaries["a.txt"])
	descriptions, _ := library.LoadMapping(library.MappingPath(dir, models.CategoryDescription))
	assert.Equal(t, "cat mat sat", descriptions["a.txt"])
}

func TestRunIsIdempotent(t *testing.T) {
	tests := []struct {
		name        string
		withJournal bool
	}{
		{"no journal", false},
		{"journal", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDoc(t, dir, "a.txt", "The cat sat on the mat. The cat slept.")
			writeDoc(t, dir, "b.txt", "Привет мир. Мир большой и светлый.")

			var j journal.Journal = journal.Nop{}
			if tt.withJournal {
				db, err := journal.New(filepath.Join(t.TempDir(), "j.db"))
				require.NoError(t, err)
				defer db.Close()
				j = db
			}
			r := frequencyRunner(t, testConfig(t, dir), j)

			_, err := r.Run(context.Background())
			require.NoError(t, err)
			first := readMappings(t, dir)

			report, err := r.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, first, readMappings(t, dir))
			if tt.withJournal {
				assert.Equal(t, 2, report.Cached)
			}
		})
	}
}

func TestRunRecomputesAfterConfigChange(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "The cat sat on the mat. The cat slept.")

	db, err := journal.New(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t, dir)
	_, err = frequencyRunner(t, cfg, db).Run(context.Background())
	require.NoError(t, err)
	summaries, _ := library.LoadMapping(library.MappingPath(dir, models.CategorySummary))
	require.Equal(t, "cat mat sat slept", summaries["a.txt"])

	cfg.Frequency.TopN = 2
	cfg.Distill.SummaryMaxWords = 2
	report, err := frequencyRunner(t, cfg, db).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Cached)
	assert.Equal(t, 1, report.Processed)

	summaries, _ = library.LoadMapping(library.MappingPath(dir, models.CategorySummary))
	assert.Len(t, strings.Fields(summaries["a.txt"]), 2)

	// The unchanged config still reuses its own results.
	report, err = frequencyRunner(t, cfg, db).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cached)
}

func TestRunProducesCategoriesInCanonicalOrder(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")

	var order []models.Category
	s := new(mockStrategy)
	s.On("Produce", mock.Anything, "alpha", mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, args.Get(2).(models.Category)) }).
		Return("alpha words here", nil)

	cfg := testConfig(t, dir)
	cfg.Distill.Categories = []string{"key_points", "description", "summary"}
	r, err := New(cfg, s, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AllCategories, order)
}

func readMappings(t *testing.T, dir string) map[models.Category][]byte {
	t.Helper()
	out := make(map[models.Category][]byte)
	for _, cat := range models.AllCategories {
		data, err := os.ReadFile(library.MappingPath(dir, cat))
		require.NoError(t, err)
		out[cat] = data
	}
	return out
}

func TestRunSkipsUnreadableDocuments(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.txt", "Lighthouses guide ships.")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe, 0x00, 'x'}, 0o644))

	report, err := frequencyRunner(t, testConfig(t, dir), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad.txt", report.Failures[0].Document)

	m, _ := library.LoadMapping(library.MappingPath(dir, models.CategorySummary))
	assert.Equal(t, []string{"good.txt"}, keys(m))
}

func keys(m library.Mapping) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestRunRecordsExhaustedRetriesAsFailed(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")
	writeDoc(t, dir, "b.txt", "beta")

	cfg := testConfig(t, dir)
	cfg.Distill.Categories = []string{"summary", "description"}

	db, err := journal.New(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer db.Close()

	unavailable := errors.New("503 service unavailable")
	s := new(mockStrategy)
	s.On("Produce", mock.Anything, "alpha", models.CategorySummary).Return("", unavailable).Times(3)
	s.On("Produce", mock.Anything, "alpha", models.CategoryDescription).Return("alpha scene image", nil).Once()
	s.On("Produce", mock.Anything, "beta", mock.Anything).Return("beta words", nil)

	r, err := New(cfg, s, db)
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "a.txt", report.Failures[0].Document)
	assert.Equal(t, models.CategorySummary, report.Failures[0].Category)
	assert.Contains(t, report.Failures[0].Error, retry.ErrExhausted.Error())

	summaries, _ := library.LoadMapping(library.MappingPath(dir, models.CategorySummary))
	assert.Equal(t, library.Mapping{"b.txt": "beta words"}, summaries)
	descriptions, _ := library.LoadMapping(library.MappingPath(dir, models.CategoryDescription))
	assert.Equal(t, "alpha scene image", descriptions["a.txt"])

	failures, err := db.Failures(report.RunID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].Attempts)
	s.AssertExpectations(t)
}

func TestRunStopsRetryingPermanentErrors(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")

	cfg := testConfig(t, dir)
	cfg.Distill.Categories = []string{"summary"}

	s := new(mockStrategy)
	s.On("Produce", mock.Anything, "alpha", models.CategorySummary).
		Return("", retry.Permanent(errors.New("401 unauthorized"))).Once()

	r, err := New(cfg, s, nil)
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	s.AssertExpectations(t)
}

func TestRunUsesJournalForUnchangedText(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")

	cfg := testConfig(t, dir)
	cfg.Distill.Categories = []string{"summary"}
	db, err := journal.New(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer db.Close()

	s := new(mockStrategy)
	s.On("Produce", mock.Anything, "alpha", models.CategorySummary).Return("first", nil).Once()
	s.On("Produce", mock.Anything, "alpha beta", models.CategorySummary).Return("second", nil).Once()

	r, err := New(cfg, s, db)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cached)

	writeDoc(t, dir, "a.txt", "alpha beta")
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	m, _ := library.LoadMapping(library.MappingPath(dir, models.CategorySummary))
	assert.Equal(t, "second", m["a.txt"])
	s.AssertExpectations(t)
}

func TestRunDropsRemovedDocuments(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")
	writeDoc(t, dir, "b.txt", "beta")
	r := frequencyRunner(t, testConfig(t, dir), nil)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "b.txt")))
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	m, _ := library.LoadMapping(library.MappingPath(dir, models.CategoryDescription))
	assert.Equal(t, []string{"a.txt"}, keys(m))
}

func TestRunMissingDirectory(t *testing.T) {
	r := frequencyRunner(t, testConfig(t, filepath.Join(t.TempDir(), "missing")), nil)
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, library.ErrNoDirectory)
}

func TestRunRejectsOverlappingPass(t *testing.T) {
	r := frequencyRunner(t, testConfig(t, t.TempDir()), nil)
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestRunHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := frequencyRunner(t, testConfig(t, dir), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(library.MappingPath(dir, models.CategorySummary))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWatchRunsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")
	r := frequencyRunner(t, testConfig(t, dir), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Watch(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(library.MappingPath(dir, models.CategorySummary))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancellation")
	}
}
