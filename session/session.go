// Package session assembles the live translation pipeline: capture
// frames are windowed, windows are transcribed by the scheduler, routed
// for translation and sequenced into an ordered display stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lingua-live/lingua/audiocapture"
	"github.com/lingua-live/lingua/cache"
	"github.com/lingua-live/lingua/config"
	"github.com/lingua-live/lingua/inference"
	"github.com/lingua-live/lingua/internal/types"
	"github.com/lingua-live/lingua/langdetect"
	"github.com/lingua-live/lingua/sequence"
	"github.com/lingua-live/lingua/translate"
	"github.com/lingua-live/lingua/window"
)

// Options carries the pluggable collaborators of a session. Provider
// and Loader are required; Fallback and Store are optional.
type Options struct {
	Provider audiocapture.DeviceProvider
	Loader   inference.Loader
	Fallback translate.Service
	Store    *cache.Cache
}

// Session owns one live translation run from microphone to display
// stream. Create with New, run with Start, consume Events, watch Fatal
// for errors the session cannot recover from.
type Session struct {
	mu  sync.Mutex
	cfg *config.Config

	capturer  *audiocapture.Capturer
	windower  *window.Windower
	scheduler *inference.Scheduler
	router    *translate.Router
	sequencer *sequence.Sequencer

	ctx     context.Context
	cancel  context.CancelFunc
	fatal   chan error
	pumpDone chan struct{}
	monDone chan struct{}
	started bool
	stopped bool
}

// New wires a session from the given configuration and collaborators.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if opts.Provider == nil || opts.Loader == nil {
		return nil, errors.New("device provider and model loader are required")
	}

	s := &Session{
		cfg:     cfg,
		fatal:   make(chan error, 1),
		pumpDone: make(chan struct{}),
		monDone: make(chan struct{}),
	}

	seq, err := sequence.New(cfg.Sequencer())
	if err != nil {
		return nil, err
	}
	s.sequencer = seq

	detector, err := langdetect.New(cfg.SourceLang, cfg.TargetLang)
	if err != nil {
		return nil, err
	}

	sched, err := inference.New(opts.Loader, cfg.Scheduler(), s.onTranscribed, s.onDropped)
	if err != nil {
		return nil, err
	}
	s.scheduler = sched

	// The scheduler doubles as the native translation path: Route is
	// invoked from its worker goroutine, so native calls stay serialized
	// with transcription.
	router, err := translate.NewRouter(cfg.Router(), sched, opts.Fallback, opts.Store, detector)
	if err != nil {
		return nil, err
	}
	s.router = router

	wd, err := window.New(cfg.Window(), s.onWindow)
	if err != nil {
		return nil, err
	}
	s.windower = wd

	capt := audiocapture.New(opts.Provider)
	capt.OnFrame(wd.Push)
	capt.OnFlush(wd.Flush)
	s.capturer = capt

	return s, nil
}

// Events is the ordered display stream. Closed when the session stops.
func (s *Session) Events() <-chan types.DisplayEvent { return s.sequencer.Events() }

// Fatal delivers at most one unrecoverable session error: a capture
// device fault or repeated inference failure. The caller decides
// whether to stop or restart with new parameters.
func (s *Session) Fatal() <-chan error { return s.fatal }

// Start loads the model and begins capturing from the configured
// device.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	deviceID := s.cfg.MicDeviceID
	s.mu.Unlock()

	if err := s.scheduler.Start(s.ctx); err != nil {
		s.cancel()
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	go s.pumpTranslations()
	go s.monitor()

	if err := s.capturer.Start(s.ctx, deviceID); err != nil {
		return err
	}
	slog.Info("session started",
		"device", deviceID, "source", s.cfg.SourceLang, "target", s.cfg.TargetLang)
	return nil
}

// Stop drains and shuts down the pipeline: the open window is flushed,
// the model released and the event stream closed. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	err := s.capturer.Stop()
	s.scheduler.Close()
	s.router.Close()
	<-s.pumpDone
	s.cancel()
	<-s.monDone
	s.sequencer.Close()
	slog.Info("session stopped")
	return err
}

// SwitchDevice drains the current device into a final window and
// restarts capture on the new device.
func (s *Session) SwitchDevice(ctx context.Context, deviceID string) error {
	if err := s.capturer.SwitchDevice(ctx, deviceID); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.MicDeviceID = deviceID
	s.mu.Unlock()
	return nil
}

// UpdateConfig applies a new configuration to the running session.
// Windowing changes take effect at the next window boundary. A model
// size or device change cancels in-flight inference, drops pending
// windows and reloads the model.
func (s *Session) UpdateConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if err := s.windower.SetConfig(cfg.Window()); err != nil {
		return err
	}
	if old.Router() != cfg.Router() {
		if err := s.router.Reconfigure(cfg.Router()); err != nil {
			return err
		}
	}
	if old.Scheduler() != cfg.Scheduler() {
		// Pending windows are about to be dropped by the scheduler; the
		// sequencer must not wait on them, and translations for them are
		// abandoned.
		s.router.CancelPending()
		s.sequencer.Reset()
		if err := s.scheduler.Reconfigure(ctx, cfg.Scheduler()); err != nil {
			return err
		}
	}
	slog.Info("session reconfigured",
		"size", cfg.ModelSize, "device", cfg.Device, "target", cfg.TargetLang)
	return nil
}

// onWindow runs synchronously on the capture path.
func (s *Session) onWindow(w *window.Window) {
	s.sequencer.Track(w)
	s.scheduler.Submit(w)
}

// onTranscribed runs on the scheduler worker goroutine.
func (s *Session) onTranscribed(w *window.Window, res types.TranscriptionResult) {
	s.sequencer.OnTranscription(w, res)
	s.router.Route(s.ctx, w, res)
}

func (s *Session) onDropped(w *window.Window, err error) {
	s.sequencer.MarkDropped(w)
}

func (s *Session) pumpTranslations() {
	defer close(s.pumpDone)
	for res := range s.router.Results() {
		s.sequencer.OnTranslation(res.Window, res.Res)
	}
}

func (s *Session) monitor() {
	defer close(s.monDone)
	for {
		select {
		case err := <-s.scheduler.Fatal():
			s.reportFatal(err)
		case err := <-s.capturer.Faults():
			s.reportFatal(err)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) reportFatal(err error) {
	if err == nil {
		return
	}
	select {
	case s.fatal <- err:
	default:
	}
}
