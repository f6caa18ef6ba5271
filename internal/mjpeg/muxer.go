package mjpeg

import (
	"errors"
	"fmt"
	"math"

	"github.com/icza/mjpeg"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

// Muxer writes JPEG packets into an AVI file. AVI has no per-frame
// timestamps, so the stream time base is one frame period and packets are
// laid out back to back.
type Muxer struct {
	logger *zap.Logger
	path   string
	fps    int
	avi    mjpeg.AviWriter
	frames int
}

// OpenMuxer creates path. The AVI header is reserved immediately and
// completed by WriteTrailer.
func OpenMuxer(logger *zap.Logger, path string, stream recorder.StreamConfig) (*Muxer, error) {
	if stream.Codec != CodecName {
		return nil, fmt.Errorf("%w: AVI muxer cannot store %q", recorder.ErrOutputOpenFailed, stream.Codec)
	}
	if stream.Width <= 0 || stream.Height <= 0 || stream.Width > math.MaxInt32 || stream.Height > math.MaxInt32 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", recorder.ErrOutputOpenFailed, stream.Width, stream.Height)
	}
	fps := int(math.Round(stream.FrameRate.Float64()))
	if fps <= 0 {
		return nil, fmt.Errorf("%w: frame rate %s", recorder.ErrOutputOpenFailed, stream.FrameRate)
	}

	avi, err := mjpeg.New(path, int32(stream.Width), int32(stream.Height), int32(fps))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", recorder.ErrOutputOpenFailed, path, err)
	}
	m := &Muxer{
		logger: logger.With(zap.String("component", "avi_muxer"), zap.String("output_path", path)),
		path:   path,
		fps:    fps,
		avi:    avi,
	}
	m.logger.Debug("Opened AVI output", zap.Int("fps", fps))
	return m, nil
}

func (m *Muxer) WriteHeader() error {
	if m.avi == nil {
		return errors.New("AVI output is closed")
	}
	return nil
}

func (m *Muxer) WritePacket(pkt recorder.Packet) error {
	if m.avi == nil {
		return errors.New("AVI output is closed")
	}
	if err := m.avi.AddFrame(pkt.Data); err != nil {
		return err
	}
	m.frames++
	return nil
}

// WriteTrailer writes the index and patches the header with the frame count.
func (m *Muxer) WriteTrailer() error {
	if m.avi == nil {
		return errors.New("AVI output is closed")
	}
	avi := m.avi
	m.avi = nil
	if err := avi.Close(); err != nil {
		return err
	}
	m.logger.Debug("Finalized AVI output", zap.Int("frames", m.frames))
	return nil
}

func (m *Muxer) StreamTimeBase() recorder.Rational {
	return recorder.NewRational(1, m.fps)
}

func (m *Muxer) StreamIndex() int {
	return 0
}

// Close finalizes the file if the trailer was never written.
func (m *Muxer) Close() error {
	if m.avi == nil {
		return nil
	}
	avi := m.avi
	m.avi = nil
	return avi.Close()
}
