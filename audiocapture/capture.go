// Package audiocapture owns the microphone device and produces the
// continuous, timestamped frame stream consumed by the windower.
package audiocapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotCapturing is returned when stopping or switching while not capturing.
var ErrNotCapturing = errors.New("not capturing audio")

// ErrAlreadyCapturing is returned when starting capture twice.
var ErrAlreadyCapturing = errors.New("already capturing audio")

// Fault is a fatal capture error: device lost, permission denied, or a
// read failure the device cannot recover from. The session must restart
// capture with a (possibly new) device id.
type Fault struct {
	DeviceID string
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("audio fault on device %q: %v", f.DeviceID, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Frame is a raw block of PCM samples with its capture timestamp.
// Frames are owned by the capturer until consumed by the frame handler.
type Frame struct {
	Samples []float32     // mono PCM in [-1, 1]
	Rate    int           // samples per second
	Offset  time.Duration // capture time relative to session start
}

// Duration returns the play time covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.Rate == 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / float64(f.Rate) * float64(time.Second))
}

// Device is an open audio input handle. Read blocks until a sample block
// is available; per-call latency is bounded by the device block size.
type Device interface {
	Read(ctx context.Context) ([]float32, error)
	SampleRate() int
	Close() error
}

// DeviceProvider opens input devices by id. Enumeration and selection UI
// live with the provider, not here.
type DeviceProvider interface {
	Open(id string) (Device, error)
}

// Capturer reads a device in a dedicated goroutine and hands each frame
// to the registered handler synchronously. The handler must be
// lightweight and must never block on downstream work.
type Capturer struct {
	mu       sync.Mutex
	provider DeviceProvider
	device   Device
	deviceID string

	running bool
	offset  time.Duration // accumulated capture time across devices

	onFrame func(Frame)
	onFlush func() // invoked before a device handle is released

	faults chan error
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a capturer backed by the given device provider.
func New(provider DeviceProvider) *Capturer {
	return &Capturer{
		provider: provider,
		faults:   make(chan error, 1),
	}
}

// OnFrame registers the frame handler. Must be called before Start.
func (c *Capturer) OnFrame(fn func(Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

// OnFlush registers the hook invoked synchronously before the current
// device handle is released, so the windower can force-flush its open
// window and no frames are silently lost mid-window.
func (c *Capturer) OnFlush(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFlush = fn
}

// Faults delivers at most one fatal capture error per device.
func (c *Capturer) Faults() <-chan error { return c.faults }

// Start opens the device and begins the capture loop.
func (c *Capturer) Start(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyCapturing
	}
	if c.onFrame == nil {
		return errors.New("no frame handler registered")
	}

	dev, err := c.provider.Open(deviceID)
	if err != nil {
		return &Fault{DeviceID: deviceID, Err: err}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.device = dev
	c.deviceID = deviceID
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(loopCtx, dev, deviceID, c.done)

	slog.Info("audio capture started", "device", deviceID, "rate", dev.SampleRate())
	return nil
}

// Stop flushes the open window and releases the device. Idempotent.
func (c *Capturer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done, dev := c.cancel, c.done, c.device
	flush := c.onFlush
	c.running = false
	c.device = nil
	c.mu.Unlock()

	cancel()
	<-done
	if flush != nil {
		flush()
	}
	err := dev.Close()
	slog.Info("audio capture stopped")
	return err
}

// SwitchDevice performs the synchronous drain-then-restart transaction:
// the capture loop is stopped, the windower flush hook runs, the old
// handle is released, and only then is the new device opened.
func (c *Capturer) SwitchDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotCapturing
	}
	c.mu.Unlock()

	if err := c.Stop(); err != nil {
		slog.Warn("close old capture device", "error", err)
	}
	return c.Start(ctx, deviceID)
}

// DeviceID returns the id of the currently open device.
func (c *Capturer) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// IsCapturing reports whether the capture loop is running.
func (c *Capturer) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Capturer) loop(ctx context.Context, dev Device, deviceID string, done chan struct{}) {
	defer close(done)

	rate := dev.SampleRate()
	for {
		if ctx.Err() != nil {
			return
		}
		samples, err := dev.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(&Fault{DeviceID: deviceID, Err: err})
			return
		}
		if len(samples) == 0 {
			continue
		}

		c.mu.Lock()
		frame := Frame{Samples: samples, Rate: rate, Offset: c.offset}
		c.offset += frame.Duration()
		handler := c.onFrame
		c.mu.Unlock()

		handler(frame)
	}
}

// fail records a fatal device error and marks capture stopped. The open
// window is flushed so its frames survive the fault.
func (c *Capturer) fail(fault *Fault) {
	c.mu.Lock()
	flush := c.onFlush
	c.running = false
	c.device = nil
	c.mu.Unlock()

	if flush != nil {
		flush()
	}

	slog.Error("audio capture fault", "device", fault.DeviceID, "error", fault.Err)
	select {
	case c.faults <- fault:
	default:
	}
}
