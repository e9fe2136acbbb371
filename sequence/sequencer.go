// Package sequence reassembles per-window results into an ordered
// display stream. Transcription and translation complete out of order;
// the sequencer holds results back until every earlier window has been
// delivered or given up on, so display events always arrive in
// non-decreasing start order.
package sequence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lingua-live/lingua/internal/types"
	"github.com/lingua-live/lingua/window"
)

// emittedKept is how many delivered windows stay addressable for late
// translation corrections.
const emittedKept = 32

// Config tunes the sequencer.
type Config struct {
	// MaxPending bounds how many windows may queue behind an unfinished
	// head before the head is forced out.
	MaxPending int
	// TranslationTimeout is how long a transcribed window waits for its
	// translation before being delivered as pending.
	TranslationTimeout time.Duration
	// StallTimeout is how long a tracked window may sit with no
	// transcription at all before being abandoned.
	StallTimeout time.Duration
}

// DefaultConfig returns sequencer defaults.
func DefaultConfig() Config {
	return Config{
		MaxPending:         8,
		TranslationTimeout: 3 * time.Second,
		StallTimeout:       15 * time.Second,
	}
}

func (c Config) validate() error {
	if c.MaxPending <= 0 {
		return errors.New("max pending must be positive")
	}
	if c.TranslationTimeout <= 0 || c.StallTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

type entry struct {
	win         *window.Window
	trans       *types.TranscriptionResult
	translation *types.TranslationResult
	dropped     bool
	deadline    bool // translation wait expired
	emitted     bool
	event       types.DisplayEvent // as delivered, base for corrections

	transTimer *time.Timer
	stallTimer *time.Timer
}

// Sequencer orders window results for display. All methods are safe for
// concurrent use; events are delivered on a buffered channel and dropped
// with a warning when the consumer falls behind, never blocking the
// pipeline.
type Sequencer struct {
	cfg Config

	mu      sync.Mutex
	order   []*entry
	byID    map[string]*entry
	emitted []string // ring of delivered window IDs kept in byID
	prevRaw string   // untrimmed text of the last delivered window
	closed  bool

	events chan types.DisplayEvent
}

// New creates a sequencer.
func New(cfg Config) (*Sequencer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("sequencer config: %w", err)
	}
	return &Sequencer{
		cfg:    cfg,
		byID:   make(map[string]*entry),
		events: make(chan types.DisplayEvent, 64),
	}, nil
}

// Events is the ordered display stream. Closed by Close.
func (s *Sequencer) Events() <-chan types.DisplayEvent { return s.events }

// Track registers a window in emission order. Must be called in the
// order the windower produced the windows, before any result for the
// window arrives.
func (s *Sequencer) Track(w *window.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	e := &entry{win: w}
	e.stallTimer = time.AfterFunc(s.cfg.StallTimeout, func() { s.stalled(w.ID) })
	s.order = append(s.order, e)
	s.byID[w.ID] = e

	if len(s.order) > s.cfg.MaxPending {
		head := s.order[0]
		if head.trans != nil {
			head.deadline = true
		} else {
			head.dropped = true
			slog.Warn("sequencer backlog full, abandoning head window",
				"window", head.win.ID, "start", head.win.Start)
		}
	}
	s.tryEmitLocked()
}

// OnTranscription records the recognized text for a window.
func (s *Sequencer) OnTranscription(w *window.Window, res types.TranscriptionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[w.ID]
	if s.closed || !ok || e.emitted || e.dropped {
		return
	}
	e.trans = &res
	if e.stallTimer != nil {
		e.stallTimer.Stop()
		e.stallTimer = nil
	}
	e.transTimer = time.AfterFunc(s.cfg.TranslationTimeout, func() { s.translationExpired(w.ID) })
	s.tryEmitLocked()
}

// OnTranslation records the translation outcome for a window. A result
// arriving after the window was already delivered produces a correction
// event with the same window identity.
func (s *Sequencer) OnTranslation(w *window.Window, res types.TranslationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[w.ID]
	if s.closed || !ok || e.dropped {
		return
	}

	if e.emitted {
		if e.event.Status != types.StatusTranslationPending {
			return
		}
		ev := e.event
		ev.TranslatedText = res.Text
		ev.Status = displayStatus(res)
		ev.Correction = true
		e.event = ev
		w.SetState(window.StateDone)
		s.sendLocked(ev)
		return
	}

	e.translation = &res
	if e.transTimer != nil {
		e.transTimer.Stop()
		e.transTimer = nil
	}
	s.tryEmitLocked()
}

// MarkDropped removes a window from the stream so it no longer blocks
// later windows. No event is produced for it.
func (s *Sequencer) MarkDropped(w *window.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[w.ID]
	if s.closed || !ok || e.emitted {
		return
	}
	e.dropped = true
	s.tryEmitLocked()
}

// Reset abandons all pending windows and forgets stitching context.
// Used on configuration changes that restart the window stream.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.order {
		e.stopTimersLocked()
	}
	s.order = nil
	s.byID = make(map[string]*entry)
	s.emitted = nil
	s.prevRaw = ""
}

// Close stops all timers and closes the event stream.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.order {
		e.stopTimersLocked()
	}
	close(s.events)
}

func (e *entry) stopTimersLocked() {
	if e.stallTimer != nil {
		e.stallTimer.Stop()
		e.stallTimer = nil
	}
	if e.transTimer != nil {
		e.transTimer.Stop()
		e.transTimer = nil
	}
}

func (s *Sequencer) stalled(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if s.closed || !ok || e.emitted || e.dropped || e.trans != nil {
		return
	}
	e.dropped = true
	slog.Warn("window produced no transcription, abandoning",
		"window", id, "start", e.win.Start)
	s.tryEmitLocked()
}

func (s *Sequencer) translationExpired(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if s.closed || !ok || e.emitted || e.dropped || e.translation != nil {
		return
	}
	e.deadline = true
	s.tryEmitLocked()
}

// tryEmitLocked advances the head of the line as far as possible.
func (s *Sequencer) tryEmitLocked() {
	for len(s.order) > 0 {
		head := s.order[0]
		if head.dropped {
			head.stopTimersLocked()
			head.win.SetState(window.StateDropped)
			s.order = s.order[1:]
			delete(s.byID, head.win.ID)
			continue
		}
		if head.trans == nil {
			return
		}
		if head.translation == nil && !head.deadline {
			return
		}
		s.emitLocked(head)
		s.order = s.order[1:]
	}
}

func (s *Sequencer) emitLocked(e *entry) {
	raw := e.trans.Text
	text := window.TrimOverlap(s.prevRaw, raw, window.SpanWords(e.win.Overlap))
	s.prevRaw = raw

	ev := types.DisplayEvent{
		WindowID:   e.win.ID,
		Start:      e.win.Start,
		End:        e.win.End,
		SourceLang: e.trans.Language,
		SourceText: text,
	}
	if e.translation != nil {
		ev.TranslatedText = e.translation.Text
		ev.Status = displayStatus(*e.translation)
		if e.translation.Status == types.TranslationSkipped {
			// Already in the target language: the source text is the
			// translation.
			ev.TranslatedText = text
		}
	} else {
		ev.Status = types.StatusTranslationPending
	}

	e.emitted = true
	e.event = ev
	if e.transTimer != nil && e.translation != nil {
		e.transTimer.Stop()
		e.transTimer = nil
	}
	if e.translation != nil {
		e.win.SetState(window.StateDone)
	}

	s.emitted = append(s.emitted, e.win.ID)
	if len(s.emitted) > emittedKept {
		delete(s.byID, s.emitted[0])
		s.emitted = s.emitted[1:]
	}

	s.sendLocked(ev)
}

func (s *Sequencer) sendLocked(ev types.DisplayEvent) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("display consumer behind, dropping event",
			"window", ev.WindowID, "status", ev.Status)
	}
}

func displayStatus(res types.TranslationResult) string {
	switch res.Status {
	case types.TranslationOK:
		return types.StatusOK
	case types.TranslationSkipped:
		return types.StatusTranslationSkipped
	default:
		return types.StatusTranslationFailed
	}
}
