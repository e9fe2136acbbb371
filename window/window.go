// Package window buffers the capture frame stream into overlapping
// transcription windows and stitches overlap text between consecutive
// results.
package window

import (
	"sync/atomic"
	"time"
)

// State is the processing state of a window.
type State int32

const (
	StatePending State = iota
	StateTranscribing
	StateTranslating
	StateDone
	StateDropped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateTranscribing:
		return "transcribing"
	case StateTranslating:
		return "translating"
	case StateDone:
		return "done"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Window is a time-boxed chunk of audio submitted as one inference unit.
// The leading Overlap duration duplicates the tail of the previous
// window. Created by the windower, state-advanced by the scheduler and
// router, released once the sequencer has consumed it.
type Window struct {
	ID      string
	Index   int
	Start   time.Duration // capture offset of the first sample
	End     time.Duration // capture offset just past the last sample
	Overlap time.Duration // leading span shared with the previous window
	Samples []float32
	Rate    int

	state atomic.Int32
}

// State returns the current processing state.
func (w *Window) State() State { return State(w.state.Load()) }

// SetState advances the processing state.
func (w *Window) SetState(s State) { w.state.Store(int32(s)) }

// Duration returns the audio time covered by the window, overlap included.
func (w *Window) Duration() time.Duration { return w.End - w.Start }
