package window

import (
	"testing"
	"time"

	"github.com/lingua-live/lingua/audiocapture"
)

const testRate = 16000

// feed pushes frames of frameDur covering total duration, with amplitude
// amp, starting at the given capture offset.
func feed(t *testing.T, wd *Windower, start, total, frameDur time.Duration, amp float32) {
	t.Helper()

	frameSamples := int(frameDur.Seconds() * testRate)
	n := int(total / frameDur)
	for i := 0; i < n; i++ {
		samples := make([]float32, frameSamples)
		for j := range samples {
			samples[j] = amp
		}
		wd.Push(audiocapture.Frame{
			Samples: samples,
			Rate:    testRate,
			Offset:  start + time.Duration(i)*frameDur,
		})
	}
}

func TestWindowerFixedLengthWithOverlap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Length = 4 * time.Second
	cfg.Overlap = time.Second

	var windows []*Window
	wd, err := New(cfg, func(w *Window) { windows = append(windows, w) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 10 seconds of voiced audio, then end of stream.
	feed(t, wd, 0, 10*time.Second, 250*time.Millisecond, 0.1)
	wd.Flush()

	want := []struct {
		start, end, overlap time.Duration
	}{
		{0, 4 * time.Second, 0},
		{3 * time.Second, 8 * time.Second, time.Second},
		{7 * time.Second, 10 * time.Second, time.Second},
	}

	if len(windows) != len(want) {
		t.Fatalf("got %d windows, want %d", len(windows), len(want))
	}
	for i, w := range windows {
		if w.Start != want[i].start || w.End != want[i].end {
			t.Errorf("window %d = [%v, %v], want [%v, %v]",
				i, w.Start, w.End, want[i].start, want[i].end)
		}
		if w.Overlap != want[i].overlap {
			t.Errorf("window %d overlap = %v, want %v", i, w.Overlap, want[i].overlap)
		}
		wantSamples := int((want[i].end - want[i].start).Seconds() * testRate)
		if len(w.Samples) != wantSamples {
			t.Errorf("window %d has %d samples, want %d", i, len(w.Samples), wantSamples)
		}
		if w.Index != i {
			t.Errorf("window %d index = %d", i, w.Index)
		}
		if w.State() != StatePending {
			t.Errorf("window %d state = %v, want pending", i, w.State())
		}
	}
}

func TestWindowerStartsStrictlyIncrease(t *testing.T) {
	cfg := DefaultConfig()

	var starts []time.Duration
	wd, err := New(cfg, func(w *Window) { starts = append(starts, w.Start) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Alternate voiced and silent stretches to exercise both the full
	// length trigger and the silence flush.
	offset := time.Duration(0)
	pattern := []struct {
		dur time.Duration
		amp float32
	}{
		{2 * time.Second, 0.2},
		{1 * time.Second, 0.0},
		{5 * time.Second, 0.2},
		{800 * time.Millisecond, 0.0},
		{3 * time.Second, 0.2},
		{2 * time.Second, 0.0},
	}
	for _, p := range pattern {
		feed(t, wd, offset, p.dur, 100*time.Millisecond, p.amp)
		offset += p.dur
	}
	wd.Flush()

	if len(starts) < 3 {
		t.Fatalf("expected several windows, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if starts[i] <= starts[i-1] {
			t.Errorf("start %d (%v) not greater than start %d (%v)",
				i, starts[i], i-1, starts[i-1])
		}
	}
}

func TestWindowerSilenceFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Length = 8 * time.Second // long enough that only silence can flush

	var windows []*Window
	wd, err := New(cfg, func(w *Window) { windows = append(windows, w) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// One second of speech followed by a pause.
	feed(t, wd, 0, time.Second, 100*time.Millisecond, 0.2)
	feed(t, wd, time.Second, time.Second, 100*time.Millisecond, 0)

	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1 from silence flush", len(windows))
	}
	w := windows[0]
	if w.Start != 0 {
		t.Errorf("start = %v, want 0", w.Start)
	}
	// Flushed once MinSilence (600ms) of continuous silence accumulated.
	if w.End != 1600*time.Millisecond {
		t.Errorf("end = %v, want 1.6s", w.End)
	}
}

func TestWindowerSilenceAloneNeverFlushes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Length = 8 * time.Second

	var windows []*Window
	wd, err := New(cfg, func(w *Window) { windows = append(windows, w) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Pure silence shorter than the window length: no voiced content, no
	// early flush, no empty windows.
	feed(t, wd, 0, 3*time.Second, 100*time.Millisecond, 0)

	if len(windows) != 0 {
		t.Fatalf("got %d windows from pure silence, want 0", len(windows))
	}
}

func TestWindowerFlushOnEmptyBufferIsNoop(t *testing.T) {
	var windows []*Window
	wd, err := New(DefaultConfig(), func(w *Window) { windows = append(windows, w) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wd.Flush()
	if len(windows) != 0 {
		t.Fatalf("flush of empty buffer emitted %d windows", len(windows))
	}
}

func TestWindowerConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap not below length", func(c *Config) { c.Overlap = c.Length }},
		{"negative overlap", func(c *Config) { c.Overlap = -time.Second }},
		{"zero rate", func(c *Config) { c.Rate = 0 }},
		{"silence flush cannot outrun overlap", func(c *Config) {
			c.MinSilence = 200 * time.Millisecond
			c.MinVoiced = 200 * time.Millisecond
			c.Overlap = time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, func(*Window) {}); err == nil {
				t.Error("expected config error, got nil")
			}
		})
	}
}

func TestWindowerStagedConfigAppliesAtBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Length = 2 * time.Second
	cfg.Overlap = 500 * time.Millisecond

	var windows []*Window
	wd, err := New(cfg, func(w *Window) { windows = append(windows, w) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feed(t, wd, 0, time.Second, 250*time.Millisecond, 0.1)

	next := cfg
	next.Length = 3 * time.Second
	if err := wd.SetConfig(next); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	// The in-progress window still uses the old length.
	feed(t, wd, time.Second, time.Second, 250*time.Millisecond, 0.1)
	if len(windows) != 1 || windows[0].End != 2*time.Second {
		t.Fatalf("first window not emitted at old length: %+v", windows)
	}

	// The next window uses the staged length: 3s of new content.
	feed(t, wd, 2*time.Second, 3*time.Second, 250*time.Millisecond, 0.1)
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(windows))
	}
	if got := windows[1].End; got != 5*time.Second {
		t.Errorf("second window end = %v, want 5s", got)
	}
}
