package inference

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// StubLoader loads Stub models. It stands in for a real speech model
// binding during development and lets the CLI run the full pipeline
// without a checkpoint on disk.
type StubLoader struct {
	// Delay simulates model load time.
	Delay time.Duration
}

// Load implements Loader.
func (l *StubLoader) Load(ctx context.Context, size ModelSize, device DeviceKind) (Model, error) {
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Stub{size: size, device: device}, nil
}

// Stub fabricates deterministic transcripts from window metadata.
type Stub struct {
	size   ModelSize
	device DeviceKind
	calls  atomic.Uint64
}

// Transcribe implements Model.
func (m *Stub) Transcribe(ctx context.Context, samples []float32, langHint string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	n := m.calls.Add(1)
	dur := float64(len(samples)) / 16000.0
	lang := langHint
	if lang == "" {
		lang = "en"
	}
	return Output{
		Text:       fmt.Sprintf("segment %d covering %.1f seconds on %s/%s", n, dur, m.size, m.device),
		Language:   lang,
		Confidence: 0.9,
	}, nil
}

// Translate implements Model. Whisper-style models translate any source
// into English; the stub mirrors that shape.
func (m *Stub) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s→%s) %s", src, tgt, text), nil
}

// SupportsTranslation implements Model.
func (m *Stub) SupportsTranslation(src, tgt string) bool {
	return tgt == "en" && src != "en"
}

// Close implements Model.
func (m *Stub) Close() error { return nil }
