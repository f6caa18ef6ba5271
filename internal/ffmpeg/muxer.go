package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

// Muxer writes a single video stream into a container guessed from the
// output file name.
type Muxer struct {
	logger *zap.Logger
	path   string
	fc     *astiav.FormatContext
	pb     *astiav.IOContext
	stream *astiav.Stream
	pkt    *astiav.Packet
}

// OpenMuxer creates path. stream must come from an Encoder of this package.
func OpenMuxer(logger *zap.Logger, path string, stream recorder.StreamConfig) (*Muxer, error) {
	cc, ok := stream.Parameters.(*astiav.CodecContext)
	if !ok || cc == nil {
		return nil, fmt.Errorf("%w: stream %q has no libavcodec parameters", recorder.ErrOutputOpenFailed, stream.Codec)
	}

	fc, err := astiav.AllocOutputFormatContext(nil, "", path)
	if err != nil {
		return nil, fmt.Errorf("%w: no container for %s: %v", recorder.ErrOutputOpenFailed, path, err)
	}
	m := &Muxer{
		logger: logger.With(zap.String("component", "ffmpeg_muxer"), zap.String("output_path", path)),
		path:   path,
		fc:     fc,
	}

	m.stream = fc.NewStream(nil)
	if m.stream == nil {
		m.Close()
		return nil, fmt.Errorf("%w: failed to add video stream", recorder.ErrOutputOpenFailed)
	}
	if err := m.stream.CodecParameters().FromCodecContext(cc); err != nil {
		m.Close()
		return nil, fmt.Errorf("%w: copying codec parameters: %v", recorder.ErrOutputOpenFailed, err)
	}
	m.stream.SetTimeBase(cc.TimeBase())

	if !fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		pb, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("%w: %s: %v", recorder.ErrOutputOpenFailed, path, err)
		}
		m.pb = pb
		fc.SetPb(pb)
	}
	m.pkt = astiav.AllocPacket()

	m.logger.Debug("Opened output",
		zap.String("format", fc.OutputFormat().Name()),
		zap.String("codec", stream.Codec))
	return m, nil
}

func (m *Muxer) WriteHeader() error {
	if m.fc == nil {
		return errors.New("output is closed")
	}
	return m.fc.WriteHeader(nil)
}

func (m *Muxer) WritePacket(p recorder.Packet) error {
	if m.fc == nil {
		return errors.New("output is closed")
	}
	if err := m.pkt.FromData(p.Data); err != nil {
		return err
	}
	m.pkt.SetPts(p.PTS)
	m.pkt.SetDts(p.DTS)
	m.pkt.SetDuration(p.Duration)
	m.pkt.SetStreamIndex(p.StreamIndex)
	if p.Key {
		m.pkt.SetFlags(m.pkt.Flags().Add(astiav.PacketFlagKey))
	}
	// The muxer takes ownership of the payload and resets pkt.
	return m.fc.WriteInterleavedFrame(m.pkt)
}

func (m *Muxer) WriteTrailer() error {
	if m.fc == nil {
		return errors.New("output is closed")
	}
	return m.fc.WriteTrailer()
}

// StreamTimeBase may differ from the encoder's once the header is written;
// MP4 for instance picks its own timescale.
func (m *Muxer) StreamTimeBase() recorder.Rational {
	tb := m.stream.TimeBase()
	return recorder.NewRational(tb.Num(), tb.Den())
}

func (m *Muxer) StreamIndex() int {
	return m.stream.Index()
}

func (m *Muxer) Close() error {
	var err error
	if m.pkt != nil {
		m.pkt.Free()
		m.pkt = nil
	}
	if m.pb != nil {
		err = m.pb.Close()
		m.pb = nil
	}
	if m.fc != nil {
		m.fc.Free()
		m.fc = nil
	}
	return err
}

// NeedsGlobalHeader reports whether the container guessed from path wants
// codec headers out of band (MP4, MOV, MKV) rather than in the bitstream.
func NeedsGlobalHeader(path string) bool {
	fc, err := astiav.AllocOutputFormatContext(nil, "", path)
	if err != nil {
		return false
	}
	defer fc.Free()
	return fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader)
}
