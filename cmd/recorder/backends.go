package main

import (
	"github.com/ssk-wh/ffmpeg-demo/internal/capture"
	"github.com/ssk-wh/ffmpeg-demo/internal/config"
	"github.com/ssk-wh/ffmpeg-demo/internal/convert"
	"github.com/ssk-wh/ffmpeg-demo/internal/ffmpeg"
	"github.com/ssk-wh/ffmpeg-demo/internal/mjpeg"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

const (
	backendFFmpeg    = "ffmpeg"
	backendMJPEG     = "mjpeg"
	converterSwscale = "swscale"
)

// newBackends picks the source, codec, container and converter named by rc.
func newBackends(log *zap.Logger, rc config.RecorderConfig) recorder.Backends {
	b := recorder.Backends{
		OpenSource: func() (recorder.ScreenSource, error) {
			return capture.Open(log, rc.Source, rc.Display)
		},
		NewConverter: convert.Factory,
	}
	if rc.Converter == converterSwscale {
		b.NewConverter = ffmpeg.Factory
	}

	switch rc.Backend {
	case backendMJPEG:
		b.OpenEncoder = func(ec recorder.EncoderConfig) (recorder.Encoder, error) {
			return mjpeg.OpenEncoder(log, ec)
		}
		b.OpenWriter = func(path string, stream recorder.StreamConfig) (recorder.Writer, error) {
			return mjpeg.OpenMuxer(log, path, stream)
		}
	default:
		b.SizeAlignment = 2
		b.OpenEncoder = func(ec recorder.EncoderConfig) (recorder.Encoder, error) {
			return ffmpeg.OpenEncoder(log, ec)
		}
		b.OpenWriter = func(path string, stream recorder.StreamConfig) (recorder.Writer, error) {
			return ffmpeg.OpenMuxer(log, path, stream)
		}
	}
	return b
}

// encoderConfig maps the configured codec parameters. Layout, dimensions
// and timing are filled in by the session from the source region.
func encoderConfig(log *zap.Logger, rc config.RecorderConfig) recorder.EncoderConfig {
	e := rc.Encoder
	ec := recorder.EncoderConfig{
		Codec:      e.Codec,
		GOPSize:    e.GOPSize,
		MaxBFrames: e.MaxBFrames,
		BitRate:    e.BitRate,
		QMin:       e.QMin,
		QMax:       e.QMax,
		Preset:     e.Preset,
		Tune:       e.Tune,
		Quality:    e.Quality,
		OnRejected: func(option, value string, err error) {
			log.Warn("Encoder rejected option",
				zap.String("option", option),
				zap.String("value", value),
				zap.Error(err))
		},
	}
	switch rc.Backend {
	case backendMJPEG:
		// H.264 speed and reordering knobs have no JPEG equivalent.
		ec.Codec = mjpeg.CodecName
		ec.Preset, ec.Tune, ec.MaxBFrames = "", "", 0
	default:
		if ec.Codec == "" {
			ec.Codec = ffmpeg.DefaultCodec
		}
		ec.GlobalHeader = ffmpeg.NeedsGlobalHeader(rc.Output)
	}
	return ec
}
