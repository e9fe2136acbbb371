package audiocapture

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// MemoryProvider serves in-memory devices by id. It backs the built-in
// synthetic source of the CLI and the scripted devices used in tests;
// real microphone providers are platform collaborators implementing
// DeviceProvider the same way.
type MemoryProvider struct {
	mu      sync.Mutex
	devices map[string]func() Device
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{devices: make(map[string]func() Device)}
}

// Register adds a device constructor under the given id. The constructor
// runs on every Open so a device can be reopened after a switch.
func (p *MemoryProvider) Register(id string, open func() Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices[id] = open
}

// Open implements DeviceProvider.
func (p *MemoryProvider) Open(id string) (Device, error) {
	p.mu.Lock()
	open, ok := p.devices[id]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown device %q", id)
	}
	return open(), nil
}

// MemoryDevice replays a fixed sample buffer in real-time-sized blocks.
// When the buffer is exhausted Read returns io.EOF, which the capturer
// reports as a device fault.
type MemoryDevice struct {
	mu       sync.Mutex
	samples  []float32
	pos      int
	rate     int
	block    int
	realtime bool
	closed   bool
}

// NewMemoryDevice creates a device replaying samples at the given rate.
// block is the number of samples returned per Read; realtime sleeps one
// block duration per read to pace the stream like a live microphone.
func NewMemoryDevice(samples []float32, rate, block int, realtime bool) *MemoryDevice {
	if block <= 0 {
		block = 1024
	}
	return &MemoryDevice{samples: samples, rate: rate, block: block, realtime: realtime}
}

// SineDevice returns a memory device carrying a steady tone, useful as a
// smoke source when no real provider is wired in.
func SineDevice(freq float64, rate int, length time.Duration) *MemoryDevice {
	n := int(length.Seconds() * float64(rate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.4 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return NewMemoryDevice(samples, rate, 1024, true)
}

func (d *MemoryDevice) SampleRate() int { return d.rate }

func (d *MemoryDevice) Read(ctx context.Context) ([]float32, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, io.EOF
	}
	if d.pos >= len(d.samples) {
		d.mu.Unlock()
		return nil, io.EOF
	}
	end := d.pos + d.block
	if end > len(d.samples) {
		end = len(d.samples)
	}
	out := make([]float32, end-d.pos)
	copy(out, d.samples[d.pos:end])
	d.pos = end
	realtime := d.realtime
	d.mu.Unlock()

	if realtime {
		wait := time.Duration(float64(len(out)) / float64(d.rate) * float64(time.Second))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
