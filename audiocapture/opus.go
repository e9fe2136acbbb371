package audiocapture

import (
	"context"
	"fmt"

	opuscodec "github.com/jj11hh/opus"
)

// PacketReader yields one encoded Opus packet per call. It is the
// transport-side half of an Opus-framed input, for devices that deliver
// compressed packets instead of raw PCM (network microphones, recorded
// feeds).
type PacketReader interface {
	ReadPacket() ([]byte, error)
	Close() error
}

// maxOpusFrame is 120 ms at 48 kHz stereo, the largest frame Opus emits.
const maxOpusFrame = 5760 * 2

// OpusDevice decodes an Opus packet stream into the mono PCM frames the
// rest of the pipeline expects.
type OpusDevice struct {
	src      PacketReader
	dec      *opuscodec.Decoder
	rate     int
	channels int
	pcm      []float32
}

// NewOpusDevice creates a decoding device. rate must be one Opus supports
// (8, 12, 16, 24 or 48 kHz); multi-channel input is downmixed to mono.
func NewOpusDevice(src PacketReader, rate, channels int) (*OpusDevice, error) {
	dec, err := opuscodec.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDevice{
		src:      src,
		dec:      dec,
		rate:     rate,
		channels: channels,
		pcm:      make([]float32, maxOpusFrame),
	}, nil
}

func (d *OpusDevice) SampleRate() int { return d.rate }

func (d *OpusDevice) Read(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pkt, err := d.src.ReadPacket()
	if err != nil {
		return nil, fmt.Errorf("read opus packet: %w", err)
	}

	n, err := d.dec.DecodeFloat32(pkt, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	if d.channels == 1 {
		out := make([]float32, n)
		copy(out, d.pcm[:n])
		return out, nil
	}

	// Downmix interleaved channels to mono.
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < d.channels; ch++ {
			sum += d.pcm[i*d.channels+ch]
		}
		out[i] = sum / float32(d.channels)
	}
	return out, nil
}

func (d *OpusDevice) Close() error {
	return d.src.Close()
}
