// Package ffmpeg wraps libavcodec, libavformat and libswscale through
// go-astiav: an H.264 encoder, a container muxer (MP4 by default), a swscale
// pixel converter and a media prober.
package ffmpeg

import (
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

const DefaultCodec = "libx264"

type codecOption struct {
	key, value string
	// optional options may be refused without failing the encoder.
	optional bool
}

// Encoder is a libavcodec video encoder fed with I420 frames.
type Encoder struct {
	logger   *zap.Logger
	cfg      recorder.EncoderConfig
	codec    *astiav.Codec
	ctx      *astiav.CodecContext
	frame    *astiav.Frame
	pkt      *astiav.Packet
	timeBase recorder.Rational

	flushed bool
	eof     bool
}

// OpenEncoder opens cfg.Codec, libx264 when empty. Any H.264 encoder is
// used when the named one is missing and the request was for H.264.
func OpenEncoder(logger *zap.Logger, cfg recorder.EncoderConfig) (*Encoder, error) {
	logger = logger.With(zap.String("component", "ffmpeg_encoder"))

	codec := findEncoder(cfg.Codec)
	if codec == nil {
		return nil, fmt.Errorf("%w: no encoder for %q", recorder.ErrEncoderUnavailable, cfg.Codec)
	}
	if cfg.Layout != recorder.LayoutI420 {
		return nil, fmt.Errorf("%w: pixel layout %s", recorder.ErrConfigurationRejected, cfg.Layout)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d must be positive and even", recorder.ErrConfigurationRejected, cfg.Width, cfg.Height)
	}
	if !cfg.TimeBase.Valid() {
		return nil, fmt.Errorf("%w: time base %s", recorder.ErrConfigurationRejected, cfg.TimeBase)
	}

	ctx, err := openWithFallback(cfg, encoderOptions(cfg), func(opts []codecOption) (*astiav.CodecContext, []codecOption, error) {
		return openCodecContext(codec, cfg, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", recorder.ErrConfigurationRejected, codec.Name(), err)
	}

	e := &Encoder{
		logger: logger,
		cfg:    cfg,
		codec:  codec,
		ctx:    ctx,
		pkt:    astiav.AllocPacket(),
	}
	tb := ctx.TimeBase()
	e.timeBase = recorder.NewRational(tb.Num(), tb.Den())

	e.frame = astiav.AllocFrame()
	e.frame.SetWidth(cfg.Width)
	e.frame.SetHeight(cfg.Height)
	e.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := e.frame.AllocBuffer(0); err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: failed to allocate frame: %v", recorder.ErrEncoderUnavailable, err)
	}

	logger.Debug("Opened encoder",
		zap.String("codec", codec.Name()),
		zap.Stringer("time_base", e.timeBase),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height))
	return e, nil
}

func findEncoder(name string) *astiav.Codec {
	if name == "" {
		name = DefaultCodec
	}
	if c := astiav.FindEncoderByName(name); c != nil {
		return c
	}
	if name == DefaultCodec || name == "h264" {
		return astiav.FindEncoder(astiav.CodecIDH264)
	}
	return nil
}

// encoderOptions lists the AVOptions set at open time. Rate control and
// B-frame settings are essential; preset and tune are hints.
func encoderOptions(cfg recorder.EncoderConfig) []codecOption {
	var opts []codecOption
	add := func(key, value string, optional bool) {
		opts = append(opts, codecOption{key: key, value: value, optional: optional})
	}
	if cfg.MaxBFrames >= 0 {
		add("bf", strconv.Itoa(cfg.MaxBFrames), false)
	}
	if cfg.QMin > 0 {
		add("qmin", strconv.Itoa(cfg.QMin), false)
	}
	if cfg.QMax > 0 {
		add("qmax", strconv.Itoa(cfg.QMax), false)
	}
	if cfg.Preset != "" {
		add("preset", cfg.Preset, true)
	}
	if cfg.Tune != "" {
		add("tune", cfg.Tune, true)
	}
	return opts
}

// openWithFallback opens with every option and, if that fails, once more
// without the optional ones. Optional options are reported as rejected only
// when dropping them is what made the open succeed.
func openWithFallback[C any](cfg recorder.EncoderConfig, options []codecOption, open func([]codecOption) (C, []codecOption, error)) (C, error) {
	ctx, leftover, err := open(options)
	if err != nil && hasOptional(options) {
		firstErr := err
		ctx, leftover, err = open(essentialOnly(options))
		if err == nil {
			for _, o := range options {
				if o.optional {
					reject(cfg, o, firstErr)
				}
			}
		}
	}
	if err != nil {
		return ctx, err
	}
	for _, o := range leftover {
		reject(cfg, o, errors.New("option not recognized"))
	}
	return ctx, nil
}

func hasOptional(opts []codecOption) bool {
	for _, o := range opts {
		if o.optional {
			return true
		}
	}
	return false
}

func essentialOnly(opts []codecOption) []codecOption {
	out := make([]codecOption, 0, len(opts))
	for _, o := range opts {
		if !o.optional {
			out = append(out, o)
		}
	}
	return out
}

func reject(cfg recorder.EncoderConfig, o codecOption, cause error) {
	if cfg.OnRejected == nil {
		return
	}
	cfg.OnRejected(o.key, o.value, fmt.Errorf("%w: %v", recorder.ErrConfigurationRejected, cause))
}

// openCodecContext returns the opened context and the options the codec did
// not consume.
func openCodecContext(codec *astiav.Codec, cfg recorder.EncoderConfig, opts []codecOption) (*astiav.CodecContext, []codecOption, error) {
	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, nil, errors.New("failed to allocate codec context")
	}
	ctx.SetWidth(cfg.Width)
	ctx.SetHeight(cfg.Height)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(cfg.TimeBase.Num, cfg.TimeBase.Den))
	if cfg.FrameRate.Valid() {
		ctx.SetFramerate(astiav.NewRational(cfg.FrameRate.Num, cfg.FrameRate.Den))
	}
	if cfg.GOPSize > 0 {
		ctx.SetGopSize(cfg.GOPSize)
	}
	if cfg.BitRate > 0 {
		ctx.SetBitRate(cfg.BitRate)
	}
	if cfg.GlobalHeader {
		ctx.SetFlags(ctx.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	dict := astiav.NewDictionary()
	defer dict.Free()
	for _, o := range opts {
		if err := dict.Set(o.key, o.value, astiav.NewDictionaryFlags()); err != nil {
			ctx.Free()
			return nil, nil, fmt.Errorf("setting %s=%s: %w", o.key, o.value, err)
		}
	}
	if err := ctx.Open(codec, dict); err != nil {
		ctx.Free()
		return nil, nil, err
	}

	var leftover []codecOption
	for _, o := range opts {
		if dict.Get(o.key, nil, astiav.NewDictionaryFlags()) != nil {
			leftover = append(leftover, o)
		}
	}
	return ctx, leftover, nil
}

func (e *Encoder) Submit(frame *recorder.Frame) error {
	if e.flushed {
		return fmt.Errorf("%w: encoder already flushed", recorder.ErrEncodeRejected)
	}
	if frame == nil {
		e.flushed = true
		if err := e.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return fmt.Errorf("%w: flush: %v", recorder.ErrEncodeRejected, err)
		}
		return nil
	}
	if frame.Region.Width != e.cfg.Width || frame.Region.Height != e.cfg.Height {
		return fmt.Errorf("%w: frame is %s, encoder expects %dx%d", recorder.ErrEncodeRejected, frame.Region, e.cfg.Width, e.cfg.Height)
	}

	if err := e.frame.MakeWritable(); err != nil {
		return fmt.Errorf("%w: %v", recorder.ErrEncodeRejected, err)
	}
	if err := e.frame.Data().SetBytes(frame.Bytes(), 1); err != nil {
		return fmt.Errorf("%w: copying planes: %v", recorder.ErrEncodeRejected, err)
	}
	e.frame.SetPts(frame.PTS)
	if err := e.ctx.SendFrame(e.frame); err != nil {
		return fmt.Errorf("%w: %v", recorder.ErrEncodeRejected, err)
	}
	return nil
}

// Drain receives packets until libavcodec asks for more input or reports end
// of stream.
func (e *Encoder) Drain() iter.Seq2[recorder.Packet, error] {
	return func(yield func(recorder.Packet, error) bool) {
		for !e.eof {
			err := e.ctx.ReceivePacket(e.pkt)
			if errors.Is(err, astiav.ErrEagain) {
				return
			}
			if errors.Is(err, astiav.ErrEof) {
				e.eof = true
				return
			}
			if err != nil {
				yield(recorder.Packet{}, fmt.Errorf("%w: %v", recorder.ErrEncodeRejected, err))
				return
			}
			pkt := recorder.Packet{
				Data:     e.pkt.Data(),
				PTS:      e.pkt.Pts(),
				DTS:      e.pkt.Dts(),
				Duration: e.pkt.Duration(),
				Key:      e.pkt.Flags().Has(astiav.PacketFlagKey),
			}
			e.pkt.Unref()
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (e *Encoder) TimeBase() recorder.Rational {
	return e.timeBase
}

// Stream carries the opened codec context so that OpenMuxer can copy the
// codec parameters, extradata included.
func (e *Encoder) Stream() recorder.StreamConfig {
	return recorder.StreamConfig{
		Codec:      e.codec.Name(),
		Width:      e.cfg.Width,
		Height:     e.cfg.Height,
		TimeBase:   e.timeBase,
		FrameRate:  e.cfg.FrameRate,
		BitRate:    e.cfg.BitRate,
		Parameters: e.ctx,
	}
}

func (e *Encoder) Close() error {
	if e.frame != nil {
		e.frame.Free()
		e.frame = nil
	}
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
	return nil
}
