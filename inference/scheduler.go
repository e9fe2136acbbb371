package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lingua-live/lingua/internal/types"
	"github.com/lingua-live/lingua/window"
)

// Config tunes the scheduler.
type Config struct {
	Size         ModelSize
	Device       DeviceKind
	LanguageHint string // passed to the model, empty for auto-detect
	QueueDepth   int    // K: pending windows kept before dropping the oldest
	FailureLimit int    // dropped windows tolerated before escalating
}

// DefaultConfig returns scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Size:         SizeSmall,
		Device:       DeviceCPU,
		QueueDepth:   4,
		FailureLimit: 3,
	}
}

func (c Config) validate() error {
	if !c.Size.Valid() {
		return fmt.Errorf("invalid model size %q", c.Size)
	}
	if !c.Device.Valid() {
		return fmt.Errorf("invalid device %q", c.Device)
	}
	if c.QueueDepth <= 0 {
		return errors.New("queue depth must be positive")
	}
	if c.FailureLimit <= 0 {
		return errors.New("failure limit must be positive")
	}
	return nil
}

// Scheduler owns the single model instance and serializes transcription:
// exactly one window is in flight at a time, pending windows wait in a
// bounded FIFO whose oldest entry is dropped on overflow to preserve
// end-to-end latency.
//
// On an accelerator-attributable failure the scheduler reloads the model
// on the CPU once, caches that fallback for the rest of the session and
// retries the failed window a single time.
type Scheduler struct {
	loader   Loader
	onResult func(*window.Window, types.TranscriptionResult)
	onDrop   func(*window.Window, error)

	mu   sync.Mutex
	cond *sync.Cond

	cfg         Config
	model       Model
	device      DeviceKind // effective device, may differ from cfg after fallback
	cpuFallback bool       // cached for the remainder of the session
	reloading   bool

	queue          []*window.Window
	gen            int // bumped on reconfigure; invalidates in-flight work
	inflightCancel context.CancelFunc

	failures int
	closed   bool
	fatal    chan error
	done     chan struct{}
}

// New creates a scheduler. onResult is invoked on the scheduler's worker
// goroutine once per successfully transcribed window; onDrop once per
// dropped window (err is nil for latency drops, an *InferenceError for
// inference failures).
func New(loader Loader, cfg Config, onResult func(*window.Window, types.TranscriptionResult), onDrop func(*window.Window, error)) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if loader == nil || onResult == nil {
		return nil, errors.New("loader and result handler are required")
	}
	s := &Scheduler{
		loader:   loader,
		onResult: onResult,
		onDrop:   onDrop,
		cfg:      cfg,
		device:   cfg.Device,
		fatal:    make(chan error, 1),
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Start loads the model and starts the worker. A load failure is fatal
// to session start and returned as a *ModelLoadError.
func (s *Scheduler) Start(ctx context.Context) error {
	model, err := s.loader.Load(ctx, s.cfg.Size, s.cfg.Device)
	if err != nil {
		return &ModelLoadError{Size: s.cfg.Size, Device: s.cfg.Device, Err: err}
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()

	slog.Info("speech model loaded", "size", s.cfg.Size, "device", s.cfg.Device)
	go s.worker(ctx)
	return nil
}

// Submit enqueues a window for transcription. Never blocks: on overflow
// the oldest pending window is dropped instead.
func (s *Scheduler) Submit(w *window.Window) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var dropped *window.Window
	if len(s.queue) >= s.cfg.QueueDepth {
		dropped = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, w)
	s.cond.Signal()
	s.mu.Unlock()

	if dropped != nil {
		dropped.SetState(window.StateDropped)
		slog.Warn("inference queue full, dropped oldest window",
			"window", dropped.ID, "start", dropped.Start)
		if s.onDrop != nil {
			s.onDrop(dropped, nil)
		}
	}
}

// Fatal signals at most one session-level fatal error: repeated
// inference failures after the CPU fallback is already active.
func (s *Scheduler) Fatal() <-chan error { return s.fatal }

// Done is closed when the worker exits.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Reconfigure cancels the in-flight call, drops all queued windows and
// reloads the model with the new size/device before accepting new work.
// Windows submitted during the reload wait in the queue.
func (s *Scheduler) Reconfigure(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("scheduler closed")
	}
	if s.inflightCancel != nil {
		s.inflightCancel()
	}
	queued := s.queue
	s.queue = nil
	s.gen++
	s.cfg = cfg
	s.device = cfg.Device
	s.cpuFallback = false
	s.failures = 0
	s.reloading = true
	old := s.model
	s.model = nil
	s.mu.Unlock()

	for _, w := range queued {
		w.SetState(window.StateDropped)
		if s.onDrop != nil {
			s.onDrop(w, nil)
		}
	}
	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("close model during reconfigure", "error", err)
		}
	}

	model, err := s.loader.Load(ctx, cfg.Size, cfg.Device)

	s.mu.Lock()
	s.reloading = false
	if err != nil {
		s.mu.Unlock()
		return &ModelLoadError{Size: cfg.Size, Device: cfg.Device, Err: err}
	}
	s.model = model
	s.cond.Broadcast()
	s.mu.Unlock()

	slog.Info("speech model reloaded", "size", cfg.Size, "device", cfg.Device)
	return nil
}

// Close stops the worker and releases the model.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.inflightCancel != nil {
		s.inflightCancel()
	}
	model := s.model
	s.model = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.done
	if model != nil {
		return model.Close()
	}
	return nil
}

// Translate runs the model's native translation task. Must be called
// from the scheduler's worker goroutine (the onResult path), which keeps
// model access serialized.
func (s *Scheduler) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return "", errors.New("no model loaded")
	}
	return model.Translate(ctx, text, src, tgt)
}

// SupportsTranslation reports whether the loaded model translates the
// pair directly.
func (s *Scheduler) SupportsTranslation(src, tgt string) bool {
	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return false
	}
	return model.SupportsTranslation(src, tgt)
}

func (s *Scheduler) worker(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		for !s.closed && (len(s.queue) == 0 || s.reloading || s.model == nil) {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		w := s.queue[0]
		s.queue = s.queue[1:]
		gen := s.gen
		model := s.model
		hint := s.cfg.LanguageHint
		callCtx, cancel := context.WithCancel(ctx)
		s.inflightCancel = cancel
		s.mu.Unlock()

		w.SetState(window.StateTranscribing)
		out, err := model.Transcribe(callCtx, w.Samples, hint)

		s.mu.Lock()
		stale := gen != s.gen || s.closed
		s.inflightCancel = nil
		s.mu.Unlock()

		if stale {
			cancel()
			w.SetState(window.StateDropped)
			if s.onDrop != nil {
				s.onDrop(w, nil)
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if err != nil {
			out, err = s.recover(callCtx, w, hint, err)
		}
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.dropFailed(w, err)
			continue
		}

		s.deliver(w, out, hint)
	}
}

// recover handles a failed transcription: a device-attributable failure
// triggers the one-time CPU fallback and a single retry of the same
// window. Any other failure, or a failure after the fallback, stands.
func (s *Scheduler) recover(ctx context.Context, w *window.Window, hint string, err error) (Output, error) {
	if ctx.Err() != nil {
		return Output{}, err
	}
	if !errors.Is(err, ErrAccelerator) {
		return Output{}, err
	}

	s.mu.Lock()
	alreadyCPU := s.cpuFallback || s.device == DeviceCPU
	size := s.cfg.Size
	old := s.model
	s.mu.Unlock()

	if alreadyCPU {
		return Output{}, err
	}

	slog.Warn("accelerator failure, falling back to cpu", "window", w.ID, "error", err)

	model, loadErr := s.loader.Load(ctx, size, DeviceCPU)
	if loadErr != nil {
		return Output{}, fmt.Errorf("cpu fallback load: %w", loadErr)
	}

	s.mu.Lock()
	s.model = model
	s.device = DeviceCPU
	s.cpuFallback = true
	s.mu.Unlock()

	if old != nil {
		if cerr := old.Close(); cerr != nil {
			slog.Warn("close accelerator model", "error", cerr)
		}
	}

	return model.Transcribe(ctx, w.Samples, hint)
}

func (s *Scheduler) dropFailed(w *window.Window, err error) {
	w.SetState(window.StateDropped)
	infErr := &InferenceError{WindowID: w.ID, Err: err}
	slog.Error("window dropped after inference failure", "window", w.ID, "error", err)
	if s.onDrop != nil {
		s.onDrop(w, infErr)
	}

	s.mu.Lock()
	s.failures++
	escalate := s.failures >= s.cfg.FailureLimit
	s.mu.Unlock()

	if escalate {
		select {
		case s.fatal <- fmt.Errorf("inference failing repeatedly: %w", infErr):
		default:
		}
	}
}

func (s *Scheduler) deliver(w *window.Window, out Output, hint string) {
	lang := out.Language
	if lang == "" {
		lang = hint
	}
	s.onResult(w, types.TranscriptionResult{
		WindowID:   w.ID,
		Text:       cleanText(out.Text),
		Language:   lang,
		Confidence: out.Confidence,
	})
}
