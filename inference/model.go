// Package inference owns the loaded speech model and serializes
// transcription calls against it.
package inference

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DeviceKind selects the compute device a model is loaded on.
type DeviceKind string

const (
	DeviceCPU  DeviceKind = "cpu"
	DeviceCUDA DeviceKind = "cuda"
)

// Valid reports whether the device kind is recognized.
func (d DeviceKind) Valid() bool {
	return d == DeviceCPU || d == DeviceCUDA
}

// ModelSize selects the speech model checkpoint.
type ModelSize string

const (
	SizeTiny   ModelSize = "tiny"
	SizeBase   ModelSize = "base"
	SizeSmall  ModelSize = "small"
	SizeMedium ModelSize = "medium"
	SizeLarge  ModelSize = "large"
)

// Valid reports whether the model size is recognized.
func (s ModelSize) Valid() bool {
	switch s {
	case SizeTiny, SizeBase, SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// Output is the raw model output for one transcription call.
type Output struct {
	Text       string
	Language   string  // detected source language code
	Confidence float64 // 0-1
}

// Model is a loaded speech model handle. Implementations are not safe
// for concurrent calls; the scheduler guarantees serialization.
type Model interface {
	// Transcribe converts 16 kHz mono PCM samples to text. langHint may
	// be empty for auto-detection.
	Transcribe(ctx context.Context, samples []float32, langHint string) (Output, error)

	// Translate translates text using the model's own translation task.
	// Only valid for pairs where SupportsTranslation returns true.
	Translate(ctx context.Context, text, src, tgt string) (string, error)

	// SupportsTranslation reports whether the model can translate the
	// language pair directly.
	SupportsTranslation(src, tgt string) bool

	Close() error
}

// Loader loads model checkpoints. Checkpoint download and installation
// live with the loader, not here.
type Loader interface {
	Load(ctx context.Context, size ModelSize, device DeviceKind) (Model, error)
}

// ErrAccelerator marks inference failures attributable to the compute
// device (resource exhaustion, device initialization failure). Model
// implementations wrap it so the scheduler can decide on CPU fallback.
var ErrAccelerator = errors.New("accelerator failure")

// ModelLoadError is fatal to session start: the requested checkpoint is
// missing or incompatible.
type ModelLoadError struct {
	Size   ModelSize
	Device DeviceKind
	Err    error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s on %s: %v", e.Size, e.Device, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError reports a dropped window. Non-fatal to the session
// unless failures repeat across windows.
type InferenceError struct {
	WindowID string
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for window %s: %v", e.WindowID, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

var regexArtifacts = regexp.MustCompile(`\[[A-Z_ ]+\]|\(\*?[a-z ]+\*?\)`)

// cleanText strips non-speech artifacts like [BLANK_AUDIO] or (music)
// that whisper-style models emit for silence.
func cleanText(text string) string {
	text = regexArtifacts.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
