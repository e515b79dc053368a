// Package studio is the interactive image console: an event loop that owns
// all UI state, plus the HTTP pages that drive it.
package studio

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"log/slog"

	"github.com/thinkscotty/glimpse/internal/imagegen"
)

// Generator renders the image for one library document.
type Generator interface {
	Generate(ctx context.Context, name string, progress imagegen.ProgressFunc) (string, error)
}

// TriggerResult tells the caller what a trigger did.
type TriggerResult string

const (
	TriggerStarted TriggerResult = "started"
	TriggerBusy    TriggerResult = "busy"
	TriggerIgnored TriggerResult = "ignored"
)

// State is what the page renders. Only the shell loop writes it; callers get
// copies from Snapshot.
type State struct {
	Files          []string `json:"files"`
	Selected       string   `json:"selected"`
	Busy           bool     `json:"busy"`
	Step           int      `json:"step"`
	Total          int      `json:"total"`
	PreviewVersion int      `json:"preview_version"`
	LastImage      string   `json:"last_image,omitempty"` // document whose image was saved last
	LastError      string   `json:"last_error,omitempty"`
	Preview        []byte   `json:"-"`
}

// Fraction returns the progress bar position in [0, 1].
func (s State) Fraction() float64 {
	return imagegen.Progress{Step: s.Step, Total: s.Total}.Fraction()
}

type triggerMsg struct {
	name  string
	reply chan TriggerResult
}

// update is posted by the worker goroutine; it is the only way a generation
// reaches the state.
type update struct {
	name    string
	step    int
	total   int
	preview []byte
	done    bool
	path    string
	err     error
}

type Shell struct {
	gen       Generator
	files     []string
	known     map[string]bool
	triggers  chan triggerMsg
	updates   chan update
	snapshots chan chan State
	quit      chan struct{}
}

// NewShell builds a shell offering files, normally the catalog's names.
func NewShell(gen Generator, files []string) *Shell {
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f] = true
	}
	return &Shell{
		gen:       gen,
		files:     append([]string(nil), files...),
		known:     known,
		triggers:  make(chan triggerMsg),
		updates:   make(chan update, 16),
		snapshots: make(chan chan State),
		quit:      make(chan struct{}),
	}
}

// Run is the event loop. It returns when ctx ends.
func (s *Shell) Run(ctx context.Context) error {
	defer close(s.quit)

	state := State{Files: s.files}
	if len(s.files) > 0 {
		state.Selected = s.files[0]
	}

	slog.Info("Studio shell started", "files", len(s.files))
	for {
		select {
		case <-ctx.Done():
			slog.Info("Studio shell stopped")
			return nil

		case msg := <-s.triggers:
			msg.reply <- s.handleTrigger(ctx, &state, msg.name)

		case u := <-s.updates:
			s.apply(&state, u)

		case reply := <-s.snapshots:
			snap := state
			snap.Files = append([]string(nil), state.Files...)
			reply <- snap
		}
	}
}

func (s *Shell) handleTrigger(ctx context.Context, state *State, name string) TriggerResult {
	if !s.known[name] {
		slog.Debug("Ignoring trigger for unknown file", "file", name)
		return TriggerIgnored
	}
	if state.Busy {
		slog.Info("Generation already running, ignoring trigger", "file", name, "running", state.Selected)
		return TriggerBusy
	}

	state.Selected = name
	state.Busy = true
	state.Step, state.Total = 0, 0
	state.LastError = ""
	state.Preview = nil
	state.PreviewVersion++

	go s.work(ctx, name)
	return TriggerStarted
}

func (s *Shell) apply(state *State, u update) {
	if u.done {
		state.Busy = false
		switch {
		case u.err == nil:
			state.LastImage = u.name
			slog.Debug("Studio image ready", "file", u.name, "path", u.path)
			state.Step = state.Total
		case errors.Is(u.err, imagegen.ErrUnknownFile), errors.Is(u.err, context.Canceled):
		default:
			state.LastError = u.err.Error()
		}
		return
	}
	state.Step, state.Total = u.step, u.total
	if u.preview != nil {
		state.Preview = u.preview
		state.PreviewVersion++
	}
}

// work runs one generation. It never touches the state; everything goes
// through the updates channel.
func (s *Shell) work(ctx context.Context, name string) {
	post := func(u update) {
		select {
		case s.updates <- u:
		case <-ctx.Done():
		}
	}

	path, err := s.gen.Generate(ctx, name, func(p imagegen.Progress) {
		u := update{name: name, step: p.Step, total: p.Total}
		if p.Preview != nil {
			var buf bytes.Buffer
			if err := png.Encode(&buf, p.Preview); err == nil {
				u.preview = buf.Bytes()
			}
		}
		post(u)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Image generation failed", "file", name, "error", err)
	}
	post(update{name: name, done: true, path: path, err: err})
}

// Trigger asks the loop to start a generation for name. Unknown names are
// ignored and triggers while a generation runs are rejected.
func (s *Shell) Trigger(name string) TriggerResult {
	reply := make(chan TriggerResult, 1)
	select {
	case s.triggers <- triggerMsg{name: name, reply: reply}:
		return <-reply
	case <-s.quit:
		return TriggerIgnored
	}
}

// Snapshot returns a copy of the current state.
func (s *Shell) Snapshot() State {
	reply := make(chan State, 1)
	select {
	case s.snapshots <- reply:
		return <-reply
	case <-s.quit:
		return State{Files: s.files}
	}
}
