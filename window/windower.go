package window

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lingua-live/lingua/audiocapture"
)

// Config tunes window boundaries and the silence-triggered early flush.
type Config struct {
	Rate               int           // sample rate of incoming frames
	Length             time.Duration // L: full window length of new content
	Overlap            time.Duration // O: audio carried from the previous window, O < L
	SilenceThresholdDB float64       // RMS threshold below which a frame is silent, e.g. -40
	MinSilence         time.Duration // continuous silence required for an early flush
	MinVoiced          time.Duration // voiced content required before an early flush
}

// DefaultConfig returns windowing defaults tuned for conversational
// latency at 16 kHz.
func DefaultConfig() Config {
	return Config{
		Rate:               16000,
		Length:             4 * time.Second,
		Overlap:            time.Second,
		SilenceThresholdDB: -40,
		MinSilence:         600 * time.Millisecond,
		MinVoiced:          500 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.Rate <= 0 {
		return errors.New("sample rate must be positive")
	}
	if c.Length <= 0 {
		return errors.New("window length must be positive")
	}
	if c.Overlap < 0 || c.Overlap >= c.Length {
		return fmt.Errorf("overlap %v must be in [0, length %v)", c.Overlap, c.Length)
	}
	// A silence flush must still advance the start offset past the
	// carried overlap, otherwise starts stop increasing.
	if c.MinSilence+c.MinVoiced <= c.Overlap {
		return fmt.Errorf("min silence %v + min voiced %v must exceed overlap %v",
			c.MinSilence, c.MinVoiced, c.Overlap)
	}
	return nil
}

// Windower accumulates frames and emits windows when either the full
// length of new content is reached or a pause satisfies the silence
// flush. The emit handler runs synchronously on the capture path and
// must not block or call back into the windower.
type Windower struct {
	mu   sync.Mutex
	cfg  Config
	next *Config // staged config, applied at the next window boundary
	emit func(*Window)

	threshold float32 // linear amplitude from SilenceThresholdDB

	samples  []float32
	carry    int           // carried overlap samples at the head of samples
	boundary time.Duration // capture offset where new content began
	started  bool
	index    int

	silence time.Duration
	voiced  time.Duration
}

// New creates a windower delivering windows to emit.
func New(cfg Config, emit func(*Window)) (*Windower, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("window config: %w", err)
	}
	if emit == nil {
		return nil, errors.New("nil emit handler")
	}
	return &Windower{
		cfg:       cfg,
		emit:      emit,
		threshold: dbToAmplitude(cfg.SilenceThresholdDB),
		samples:   make([]float32, 0, samplesFor(cfg.Length+cfg.Overlap, cfg.Rate)),
	}, nil
}

// Push feeds one captured frame. Called synchronously by the capturer.
func (wd *Windower) Push(f audiocapture.Frame) {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if !wd.started || (len(wd.samples) == 0 && wd.carry == 0) {
		wd.boundary = f.Offset
		wd.started = true
	}

	wd.samples = append(wd.samples, f.Samples...)

	frameDur := f.Duration()
	if rms(f.Samples) <= wd.threshold {
		wd.silence += frameDur
	} else {
		wd.silence = 0
		wd.voiced += frameDur
	}

	newDur := durationFor(len(wd.samples)-wd.carry, wd.cfg.Rate)
	switch {
	case newDur >= wd.cfg.Length:
		wd.flushLocked(false)
	case wd.silence >= wd.cfg.MinSilence && wd.voiced >= wd.cfg.MinVoiced:
		wd.flushLocked(false)
	}
}

// Flush force-emits the current window without carrying overlap. Used
// before a device handle is released and at session shutdown so no
// captured frames are silently lost.
func (wd *Windower) Flush() {
	wd.mu.Lock()
	defer wd.mu.Unlock()
	wd.flushLocked(true)
}

// SetConfig stages a new configuration. It takes effect at the next
// window boundary, never mid-window.
func (wd *Windower) SetConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("window config: %w", err)
	}
	wd.mu.Lock()
	defer wd.mu.Unlock()
	next := cfg
	wd.next = &next
	return nil
}

func (wd *Windower) flushLocked(final bool) {
	newSamples := len(wd.samples) - wd.carry
	if newSamples <= 0 {
		wd.applyStagedLocked()
		return
	}

	end := wd.boundary + durationFor(newSamples, wd.cfg.Rate)
	overlap := time.Duration(0)
	if wd.carry > 0 {
		overlap = durationFor(wd.carry, wd.cfg.Rate)
	}

	buf := make([]float32, len(wd.samples))
	copy(buf, wd.samples)

	w := &Window{
		ID:      uuid.NewString(),
		Index:   wd.index,
		Start:   wd.boundary - overlap,
		End:     end,
		Overlap: overlap,
		Samples: buf,
		Rate:    wd.cfg.Rate,
	}
	wd.index++

	slog.Debug("window emitted",
		"id", w.ID, "index", w.Index, "start", w.Start, "end", w.End,
		"overlap", w.Overlap, "final", final)
	wd.emit(w)

	wd.applyStagedLocked()

	overlapSamples := samplesFor(wd.cfg.Overlap, wd.cfg.Rate)
	if !final && overlapSamples > 0 && overlapSamples < len(wd.samples) {
		tail := wd.samples[len(wd.samples)-overlapSamples:]
		copy(wd.samples, tail)
		wd.samples = wd.samples[:overlapSamples]
		wd.carry = overlapSamples
	} else {
		wd.samples = wd.samples[:0]
		wd.carry = 0
	}
	wd.boundary = end
	wd.silence = 0
	wd.voiced = 0
}

// applyStagedLocked swaps in a staged config at a window boundary.
func (wd *Windower) applyStagedLocked() {
	if wd.next == nil {
		return
	}
	wd.cfg = *wd.next
	wd.threshold = dbToAmplitude(wd.cfg.SilenceThresholdDB)
	wd.next = nil
}

func rms(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

func dbToAmplitude(db float64) float32 {
	return float32(math.Pow(10, db/20))
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

func durationFor(n, rate int) time.Duration {
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}
