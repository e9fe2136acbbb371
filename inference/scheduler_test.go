package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lingua-live/lingua/internal/types"
	"github.com/lingua-live/lingua/window"
)

type scriptModel struct {
	device DeviceKind
	fn     func(ctx context.Context, call int) (Output, error)
	calls  atomic.Int32
	closed atomic.Bool
}

func (m *scriptModel) Transcribe(ctx context.Context, _ []float32, _ string) (Output, error) {
	return m.fn(ctx, int(m.calls.Add(1)))
}

func (m *scriptModel) Translate(_ context.Context, text, _, _ string) (string, error) {
	return "translated: " + text, nil
}

func (m *scriptModel) SupportsTranslation(_, _ string) bool { return false }

func (m *scriptModel) Close() error {
	m.closed.Store(true)
	return nil
}

type scriptLoader struct {
	mu    sync.Mutex
	loads []DeviceKind
	fail  map[DeviceKind]error
	make  func(device DeviceKind) *scriptModel
}

func (l *scriptLoader) Load(_ context.Context, _ ModelSize, device DeviceKind) (Model, error) {
	l.mu.Lock()
	l.loads = append(l.loads, device)
	l.mu.Unlock()
	if err := l.fail[device]; err != nil {
		return nil, err
	}
	return l.make(device), nil
}

func (l *scriptLoader) loadedDevices() []DeviceKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DeviceKind(nil), l.loads...)
}

type resultEvent struct {
	win *window.Window
	res types.TranscriptionResult
}

type dropEvent struct {
	win *window.Window
	err error
}

type harness struct {
	sched   *Scheduler
	results chan resultEvent
	drops   chan dropEvent
}

func newHarness(t *testing.T, loader Loader, cfg Config) *harness {
	t.Helper()

	h := &harness{
		results: make(chan resultEvent, 16),
		drops:   make(chan dropEvent, 16),
	}
	sched, err := New(loader, cfg,
		func(w *window.Window, res types.TranscriptionResult) {
			h.results <- resultEvent{w, res}
		},
		func(w *window.Window, err error) {
			h.drops <- dropEvent{w, err}
		})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sched = sched

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sched.Close() })
	return h
}

func (h *harness) waitResult(t *testing.T) resultEvent {
	t.Helper()
	select {
	case ev := <-h.results:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcription result")
		return resultEvent{}
	}
}

func (h *harness) waitDrop(t *testing.T) dropEvent {
	t.Helper()
	select {
	case ev := <-h.drops:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drop")
		return dropEvent{}
	}
}

func testWindow(id string, start time.Duration) *window.Window {
	return &window.Window{
		ID:      id,
		Start:   start,
		End:     start + time.Second,
		Samples: make([]float32, 16000),
		Rate:    16000,
	}
}

func TestSchedulerDeliversInOrder(t *testing.T) {
	loader := &scriptLoader{make: func(device DeviceKind) *scriptModel {
		return &scriptModel{device: device, fn: func(_ context.Context, call int) (Output, error) {
			return Output{Text: fmt.Sprintf("text %d", call), Language: "en", Confidence: 0.9}, nil
		}}
	}}

	h := newHarness(t, loader, DefaultConfig())

	for i := 0; i < 3; i++ {
		h.sched.Submit(testWindow(fmt.Sprintf("w%d", i), time.Duration(i)*time.Second))
	}

	for i := 0; i < 3; i++ {
		ev := h.waitResult(t)
		wantID := fmt.Sprintf("w%d", i)
		if ev.win.ID != wantID {
			t.Errorf("result %d for window %s, want %s", i, ev.win.ID, wantID)
		}
		if ev.res.WindowID != wantID {
			t.Errorf("result %d carries window id %s, want %s", i, ev.res.WindowID, wantID)
		}
		if ev.res.Text != fmt.Sprintf("text %d", i+1) {
			t.Errorf("result %d text = %q", i, ev.res.Text)
		}
		if ev.res.Language != "en" {
			t.Errorf("result %d language = %q", i, ev.res.Language)
		}
	}
}

func TestSchedulerOverflowDropsOldestPending(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	loader := &scriptLoader{make: func(device DeviceKind) *scriptModel {
		return &scriptModel{device: device, fn: func(ctx context.Context, call int) (Output, error) {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return Output{}, ctx.Err()
			}
			return Output{Text: "ok"}, nil
		}}
	}}

	cfg := DefaultConfig()
	cfg.QueueDepth = 2
	h := newHarness(t, loader, cfg)

	h.sched.Submit(testWindow("inflight", 0))
	<-started // first window is now in flight, queue empty

	h.sched.Submit(testWindow("q1", 1*time.Second))
	h.sched.Submit(testWindow("q2", 2*time.Second))
	h.sched.Submit(testWindow("q3", 3*time.Second)) // overflow: q1 dropped

	drop := h.waitDrop(t)
	if drop.win.ID != "q1" {
		t.Fatalf("dropped window %s, want q1", drop.win.ID)
	}
	if drop.err != nil {
		t.Errorf("latency drop should carry nil error, got %v", drop.err)
	}
	if drop.win.State() != window.StateDropped {
		t.Errorf("dropped window state = %v", drop.win.State())
	}

	close(release)
	for _, want := range []string{"inflight", "q2", "q3"} {
		ev := h.waitResult(t)
		if ev.win.ID != want {
			t.Errorf("result for %s, want %s", ev.win.ID, want)
		}
	}
}

func TestSchedulerAcceleratorFallback(t *testing.T) {
	loader := &scriptLoader{make: func(device DeviceKind) *scriptModel {
		return &scriptModel{device: device, fn: func(_ context.Context, call int) (Output, error) {
			if device == DeviceCUDA {
				return Output{}, fmt.Errorf("cuda out of memory: %w", ErrAccelerator)
			}
			return Output{Text: "cpu text", Language: "en"}, nil
		}}
	}}

	cfg := DefaultConfig()
	cfg.Device = DeviceCUDA
	h := newHarness(t, loader, cfg)

	// First window: accelerator fails once, CPU fallback retries the
	// same window, which is delivered, not dropped.
	h.sched.Submit(testWindow("w0", 0))
	ev := h.waitResult(t)
	if ev.win.ID != "w0" || ev.res.Text != "cpu text" {
		t.Fatalf("unexpected result %+v", ev.res)
	}

	if got := loader.loadedDevices(); len(got) != 2 || got[0] != DeviceCUDA || got[1] != DeviceCPU {
		t.Fatalf("loads = %v, want [cuda cpu]", got)
	}

	// Fallback is cached: the next window goes straight to the CPU model.
	h.sched.Submit(testWindow("w1", time.Second))
	ev = h.waitResult(t)
	if ev.win.ID != "w1" {
		t.Fatalf("result for %s, want w1", ev.win.ID)
	}
	if got := loader.loadedDevices(); len(got) != 2 {
		t.Fatalf("unexpected extra model load: %v", got)
	}

	select {
	case ev := <-h.drops:
		t.Fatalf("unexpected drop of %s", ev.win.ID)
	default:
	}
}

func TestSchedulerFailureAfterFallbackDropsOnlyThatWindow(t *testing.T) {
	loader := &scriptLoader{make: func(device DeviceKind) *scriptModel {
		return &scriptModel{device: device, fn: func(_ context.Context, call int) (Output, error) {
			if device == DeviceCUDA {
				return Output{}, fmt.Errorf("device init: %w", ErrAccelerator)
			}
			// CPU model: second call fails with another accelerator-class
			// error, which must not trigger a second fallback.
			if call == 2 {
				return Output{}, fmt.Errorf("oom: %w", ErrAccelerator)
			}
			return Output{Text: fmt.Sprintf("cpu %d", call)}, nil
		}}
	}}

	cfg := DefaultConfig()
	cfg.Device = DeviceCUDA
	h := newHarness(t, loader, cfg)

	h.sched.Submit(testWindow("w0", 0))
	if ev := h.waitResult(t); ev.win.ID != "w0" {
		t.Fatalf("result for %s, want w0", ev.win.ID)
	}

	h.sched.Submit(testWindow("w1", time.Second))
	drop := h.waitDrop(t)
	if drop.win.ID != "w1" {
		t.Fatalf("dropped %s, want w1", drop.win.ID)
	}
	var infErr *InferenceError
	if !errors.As(drop.err, &infErr) {
		t.Fatalf("drop error = %v, want *InferenceError", drop.err)
	}
	if infErr.WindowID != "w1" {
		t.Errorf("inference error window = %s", infErr.WindowID)
	}

	// The session keeps going: the next window succeeds.
	h.sched.Submit(testWindow("w2", 2*time.Second))
	if ev := h.waitResult(t); ev.win.ID != "w2" {
		t.Fatalf("result for %s, want w2", ev.win.ID)
	}
}

func TestSchedulerEscalatesRepeatedFailures(t *testing.T) {
	loader := &scriptLoader{make: func(device DeviceKind) *scriptModel {
		return &scriptModel{device: device, fn: func(_ context.Context, _ int) (Output, error) {
			return Output{}, errors.New("decode failure")
		}}
	}}

	cfg := DefaultConfig()
	cfg.FailureLimit = 2
	h := newHarness(t, loader, cfg)

	h.sched.Submit(testWindow("w0", 0))
	h.sched.Submit(testWindow("w1", time.Second))
	h.waitDrop(t)
	h.waitDrop(t)

	select {
	case err := <-h.sched.Fatal():
		var infErr *InferenceError
		if !errors.As(err, &infErr) {
			t.Fatalf("fatal error = %v, want wrapped *InferenceError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error after repeated failures")
	}
}

func TestSchedulerReconfigureCancelsAndDropsQueued(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	var generation atomic.Int32
	loader := &scriptLoader{make: func(device DeviceKind) *scriptModel {
		gen := generation.Add(1)
		return &scriptModel{device: device, fn: func(ctx context.Context, _ int) (Output, error) {
			if gen == 1 {
				started <- struct{}{}
				select {
				case <-release:
				case <-ctx.Done():
					return Output{}, ctx.Err()
				}
			}
			return Output{Text: fmt.Sprintf("gen %d", gen)}, nil
		}}
	}}

	h := newHarness(t, loader, DefaultConfig())

	h.sched.Submit(testWindow("inflight", 0))
	<-started
	h.sched.Submit(testWindow("q1", time.Second))
	h.sched.Submit(testWindow("q2", 2*time.Second))

	cfg := DefaultConfig()
	cfg.Size = SizeMedium
	if err := h.sched.Reconfigure(context.Background(), cfg); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	dropped := map[string]bool{}
	for i := 0; i < 3; i++ {
		ev := h.waitDrop(t)
		dropped[ev.win.ID] = true
	}
	for _, id := range []string{"inflight", "q1", "q2"} {
		if !dropped[id] {
			t.Errorf("window %s not dropped by reconfigure", id)
		}
	}

	// New windows are served by the reloaded model.
	h.sched.Submit(testWindow("w3", 3*time.Second))
	ev := h.waitResult(t)
	if ev.win.ID != "w3" || ev.res.Text != "gen 2" {
		t.Fatalf("post-reconfigure result = %+v", ev.res)
	}
}

func TestSchedulerStartLoadFailure(t *testing.T) {
	loader := &scriptLoader{
		fail: map[DeviceKind]error{DeviceCPU: errors.New("checkpoint missing")},
		make: func(device DeviceKind) *scriptModel { return nil },
	}

	sched, err := New(loader, DefaultConfig(),
		func(*window.Window, types.TranscriptionResult) {}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = sched.Start(context.Background())
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Start error = %v, want *ModelLoadError", err)
	}
	if loadErr.Size != SizeSmall || loadErr.Device != DeviceCPU {
		t.Errorf("load error = %+v", loadErr)
	}
}
