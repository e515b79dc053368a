package models

import (
	"fmt"
	"strings"
	"time"
)

// Category is one kind of derived text produced for a document.
type Category string

const (
	CategorySummary     Category = "summary"
	CategoryDescription Category = "description"
	CategoryKeyPoints   Category = "key_points"
)

// AllCategories lists every category in production order. Configured
// categories are produced in this order.
var AllCategories = []Category{CategorySummary, CategoryDescription, CategoryKeyPoints}

// FileName returns the JSON mapping file the category is persisted to.
func (c Category) FileName() string {
	switch c {
	case CategorySummary:
		return "summaries.json"
	case CategoryDescription:
		return "descriptions.json"
	case CategoryKeyPoints:
		return "key_points.json"
	default:
		return string(c) + ".json"
	}
}

func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "summary", "summaries":
		return CategorySummary, nil
	case "description", "descriptions":
		return CategoryDescription, nil
	case "key_points", "key-points", "keypoints":
		return CategoryKeyPoints, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

type Document struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Text string `json:"-"`
}

// Outcome is the per-document, per-category status recorded by the batch runner.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeCached  Outcome = "cached"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type DocumentResult struct {
	Document string   `json:"document"`
	Category Category `json:"category"`
	Strategy string   `json:"strategy"`
	Text     string   `json:"text,omitempty"`
	Outcome  Outcome  `json:"outcome"`
	Attempts int      `json:"attempts"`
	Error    string   `json:"error,omitempty"`
}

type Failure struct {
	Document string   `json:"document"`
	Category Category `json:"category,omitempty"`
	Error    string   `json:"error"`
}

// RunReport summarizes one batch pass.
type RunReport struct {
	RunID     string    `json:"run_id"`
	Strategy  string    `json:"strategy"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Documents int       `json:"documents"`
	Processed int       `json:"processed"`
	Cached    int       `json:"cached"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (r RunReport) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// RunSummary is a journal row describing a past batch pass.
type RunSummary struct {
	ID         string     `json:"id"`
	Strategy   string     `json:"strategy"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	Cached     int        `json:"cached"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
}
