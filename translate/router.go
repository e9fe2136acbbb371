// Package translate routes transcribed windows to a translation path:
// skip when the text is already in the target language, the loaded
// model's native translation task when it supports the pair, and an
// external service otherwise. Native calls run synchronously on the
// caller's goroutine so model access stays serialized; fallback calls
// run concurrently under a bounded pool.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/lingua-live/lingua/cache"
	"github.com/lingua-live/lingua/internal/types"
	"github.com/lingua-live/lingua/langdetect"
	"github.com/lingua-live/lingua/window"
)

// confirmBelow is the recognition confidence under which the model's
// language claim is re-checked with the text detector.
const confirmBelow = 0.5

// NativeTranslator is the model-internal translation path. It is
// satisfied by the inference scheduler; calls must come from the
// scheduler's result callback so they stay on the worker goroutine.
type NativeTranslator interface {
	Translate(ctx context.Context, text, src, tgt string) (string, error)
	SupportsTranslation(src, tgt string) bool
}

// Service is an external translation backend.
type Service interface {
	Name() string
	Translate(ctx context.Context, text, src, tgt string) (string, error)
}

// Result pairs a translation outcome with its window.
type Result struct {
	Window *window.Window
	Res    types.TranslationResult
}

// Config tunes the router.
type Config struct {
	TargetLang  string
	Concurrency int64         // fallback calls in flight at once
	Timeout     time.Duration // per fallback call
}

// DefaultConfig returns router defaults for an English to Hungarian
// session.
func DefaultConfig() Config {
	return Config{
		TargetLang:  "hu",
		Concurrency: 2,
		Timeout:     5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.TargetLang == "" {
		return errors.New("target language is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// Router decides the translation path for each transcribed window and
// delivers outcomes on Results. A window produces at most one result;
// windows whose fallback call is cancelled produce none.
type Router struct {
	cfg      Config
	native   NativeTranslator
	fallback Service
	store    *cache.Cache
	detector *langdetect.Detector

	sem     *semaphore.Weighted
	results chan Result
	wg      sync.WaitGroup

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	retry  *backoff.ExponentialBackOff
	delay  time.Duration // applied before the next fallback call, 0 when healthy
	closed bool
}

// NewRouter creates a router. native, fallback, store and detector are
// each optional; with neither translation path available every
// non-skipped window fails.
func NewRouter(cfg Config, native NativeTranslator, fallback Service, store *cache.Cache, detector *langdetect.Detector) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("router config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0
	return &Router{
		cfg:      cfg,
		native:   native,
		fallback: fallback,
		store:    store,
		detector: detector,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		results:  make(chan Result, 16),
		ctx:      ctx,
		cancel:   cancel,
		retry:    retry,
	}, nil
}

// Results delivers translation outcomes. Closed by Close.
func (r *Router) Results() <-chan Result { return r.results }

// Route decides and runs the translation path for one window. The
// skip and native paths complete before Route returns; the fallback
// path returns immediately and delivers its result asynchronously.
func (r *Router) Route(ctx context.Context, w *window.Window, res types.TranscriptionResult) {
	w.SetState(window.StateTranslating)

	src := r.confirmLanguage(res)
	r.mu.Lock()
	tgt := r.cfg.TargetLang
	r.mu.Unlock()

	if res.Text == "" || src == tgt {
		r.emit(ctx, w, types.TranslationResult{
			WindowID: w.ID,
			Status:   types.TranslationSkipped,
		})
		return
	}

	if r.native != nil && r.native.SupportsTranslation(src, tgt) {
		text, err := r.native.Translate(ctx, res.Text, src, tgt)
		if err == nil {
			r.emit(ctx, w, types.TranslationResult{
				WindowID: w.ID,
				Text:     text,
				Engine:   types.EngineNative,
				Status:   types.TranslationOK,
			})
			return
		}
		slog.Warn("native translation failed", "window", w.ID, "error", err)
	}

	if r.fallback == nil {
		r.emit(ctx, w, types.TranslationResult{
			WindowID: w.ID,
			Status:   types.TranslationFailed,
		})
		return
	}

	r.dispatchFallback(w, res.Text, src, tgt)
}

// confirmLanguage settles on a source language: the model's claim,
// re-checked against the text when the claim is absent or weakly held.
func (r *Router) confirmLanguage(res types.TranscriptionResult) string {
	src := res.Language
	if r.detector == nil {
		return src
	}
	if src == "" || res.Confidence < confirmBelow {
		if detected := r.detector.Detect(res.Text); detected != "" {
			src = detected
		}
	}
	return src
}

func (r *Router) dispatchFallback(w *window.Window, text, src, tgt string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	sem := r.sem
	timeout := r.cfg.Timeout
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)

		key := cache.GenerateKey(r.fallback.Name(), src, tgt, text)
		if r.store != nil {
			if entry, ok := r.store.Get(key); ok {
				r.emit(ctx, w, types.TranslationResult{
					WindowID: w.ID,
					Text:     entry.Text,
					Engine:   types.EngineFallback,
					Status:   types.TranslationOK,
				})
				return
			}
		}

		if d := r.currentDelay(); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := r.fallback.Translate(callCtx, text, src, tgt)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.noteFailure()
			slog.Warn("fallback translation failed", "window", w.ID, "error", err)
			r.emit(ctx, w, types.TranslationResult{
				WindowID: w.ID,
				Status:   types.TranslationFailed,
			})
			return
		}

		r.noteSuccess()
		if r.store != nil {
			entry := &cache.Entry{Text: out, Engine: string(types.EngineFallback), CreatedAt: time.Now()}
			if err := r.store.Set(key, entry, cache.DefaultTTL); err != nil {
				slog.Warn("cache translation", "error", err)
			}
		}
		r.emit(ctx, w, types.TranslationResult{
			WindowID: w.ID,
			Text:     out,
			Engine:   types.EngineFallback,
			Status:   types.TranslationOK,
		})
	}()
}

func (r *Router) emit(ctx context.Context, w *window.Window, res types.TranslationResult) {
	select {
	case r.results <- Result{Window: w, Res: res}:
	case <-ctx.Done():
	}
}

func (r *Router) currentDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

func (r *Router) noteFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = r.retry.NextBackOff()
}

func (r *Router) noteSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry.Reset()
	r.delay = 0
}

// Reconfigure abandons pending fallback calls and applies a new target
// language, concurrency bound and timeout.
func (r *Router) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("router config: %w", err)
	}
	r.CancelPending()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("router closed")
	}
	r.cfg = cfg
	r.sem = semaphore.NewWeighted(cfg.Concurrency)
	return nil
}

// CancelPending abandons in-flight and queued fallback calls. Their
// windows produce no result. Used on configuration changes, where the
// sequencer is reset anyway.
func (r *Router) CancelPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.retry.Reset()
	r.delay = 0
}

// Close cancels pending work, waits for fallback goroutines to finish
// and closes Results. Route must not be called afterwards.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	close(r.results)
}
