// Package mjpeg is a pure Go backend: every frame is compressed as a baseline
// JPEG and the pictures are stored in an AVI container. It needs no cgo and
// no ffmpeg libraries, at the cost of much larger files than H.264.
package mjpeg

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"iter"
	"strconv"

	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

const (
	CodecName      = "mjpeg"
	defaultQuality = 75
)

var bufferPool = recorder.NewPoolOf(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// Encoder compresses each frame independently, so every packet is a key
// frame and packets come out in submission order.
type Encoder struct {
	logger   *zap.Logger
	cfg      recorder.EncoderConfig
	options  jpeg.Options
	timeBase recorder.Rational

	pending []recorder.Packet
	flushed bool
	lastPTS int64
	started bool
}

func OpenEncoder(logger *zap.Logger, cfg recorder.EncoderConfig) (*Encoder, error) {
	if cfg.Codec != "" && cfg.Codec != CodecName {
		return nil, fmt.Errorf("%w: codec %q is not available, only %q", recorder.ErrEncoderUnavailable, cfg.Codec, CodecName)
	}
	if cfg.Layout != recorder.LayoutI420 {
		return nil, fmt.Errorf("%w: pixel layout %s", recorder.ErrConfigurationRejected, cfg.Layout)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", recorder.ErrConfigurationRejected, cfg.Width, cfg.Height)
	}
	if !cfg.TimeBase.Valid() {
		return nil, fmt.Errorf("%w: time base %s", recorder.ErrConfigurationRejected, cfg.TimeBase)
	}
	quality := cfg.Quality
	if quality == 0 {
		quality = defaultQuality
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("%w: quality %d outside 1-100", recorder.ErrConfigurationRejected, quality)
	}

	// Speed and latency hints have no meaning for an intra-only encoder.
	reject := func(option, value string) {
		if cfg.OnRejected != nil {
			cfg.OnRejected(option, value, fmt.Errorf("%w: %s is not supported by %s", recorder.ErrConfigurationRejected, option, CodecName))
		}
	}
	if cfg.Preset != "" {
		reject("preset", cfg.Preset)
	}
	if cfg.Tune != "" {
		reject("tune", cfg.Tune)
	}
	if cfg.MaxBFrames > 0 {
		reject("max_b_frames", strconv.Itoa(cfg.MaxBFrames))
	}

	e := &Encoder{
		logger:   logger.With(zap.String("component", "mjpeg_encoder")),
		cfg:      cfg,
		options:  jpeg.Options{Quality: quality},
		timeBase: cfg.TimeBase,
	}
	e.logger.Debug("Opened encoder",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("quality", quality))
	return e, nil
}

func (e *Encoder) Submit(frame *recorder.Frame) error {
	if e.flushed {
		return fmt.Errorf("%w: encoder already flushed", recorder.ErrEncodeRejected)
	}
	if frame == nil {
		e.flushed = true
		return nil
	}
	if frame.Layout != recorder.LayoutI420 || frame.Region.Width != e.cfg.Width || frame.Region.Height != e.cfg.Height {
		return fmt.Errorf("%w: frame is %s %s, encoder expects %s %dx%d",
			recorder.ErrEncodeRejected, frame.Layout, frame.Region, recorder.LayoutI420, e.cfg.Width, e.cfg.Height)
	}
	if e.started && frame.PTS <= e.lastPTS {
		return fmt.Errorf("%w: pts %d after %d", recorder.ErrEncodeRejected, frame.PTS, e.lastPTS)
	}

	buf := bufferPool.Get()
	defer bufferPool.Put(buf)
	if err := jpeg.Encode(buf, frame.YCbCr(), &e.options); err != nil {
		return fmt.Errorf("%w: %v", recorder.ErrEncodeRejected, err)
	}
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	e.pending = append(e.pending, recorder.Packet{
		Data:     data,
		PTS:      frame.PTS,
		DTS:      frame.PTS,
		Duration: 1,
		Key:      true,
	})
	e.started = true
	e.lastPTS = frame.PTS
	return nil
}

func (e *Encoder) Drain() iter.Seq2[recorder.Packet, error] {
	return func(yield func(recorder.Packet, error) bool) {
		for len(e.pending) > 0 {
			pkt := e.pending[0]
			e.pending[0] = recorder.Packet{}
			e.pending = e.pending[1:]
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (e *Encoder) TimeBase() recorder.Rational {
	return e.timeBase
}

func (e *Encoder) Stream() recorder.StreamConfig {
	return recorder.StreamConfig{
		Codec:     CodecName,
		Width:     e.cfg.Width,
		Height:    e.cfg.Height,
		TimeBase:  e.timeBase,
		FrameRate: e.cfg.FrameRate,
		BitRate:   e.cfg.BitRate,
	}
}

func (e *Encoder) Close() error {
	e.pending = nil
	return nil
}
