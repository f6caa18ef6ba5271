package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

var ErrNoVideoStream = errors.New("no video stream")

// VideoStream describes the first video stream of a probed file.
type VideoStream struct {
	Index   int
	CodecID astiav.CodecID
	Width   int
	Height  int
}

// CodecName is the label the inspector prints for the stream's codec.
func (v VideoStream) CodecName() string {
	return CodecName(v.CodecID)
}

func CodecName(id astiav.CodecID) string {
	switch id {
	case astiav.CodecIDH264:
		return "H.264"
	case astiav.CodecIDHevc:
		return "H.265 (HEVC)"
	case astiav.CodecIDVp9:
		return "VP9"
	default:
		return fmt.Sprintf("unknown (%d)", int(id))
	}
}

// Prober holds an opened input file.
type Prober struct {
	fc     *astiav.FormatContext
	stream *astiav.Stream
}

// OpenProbe opens path and reads enough of it to know its streams.
func OpenProbe(path string) (*Prober, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("failed to allocate format context")
	}
	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	p := &Prober{fc: fc}
	if err := fc.FindStreamInfo(nil); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to read stream info: %w", err)
	}
	return p, nil
}

// VideoStream returns the first video stream.
func (p *Prober) VideoStream() (VideoStream, error) {
	for _, s := range p.fc.Streams() {
		cp := s.CodecParameters()
		if cp.MediaType() != astiav.MediaTypeVideo {
			continue
		}
		p.stream = s
		return VideoStream{
			Index:   s.Index(),
			CodecID: cp.CodecID(),
			Width:   cp.Width(),
			Height:  cp.Height(),
		}, nil
	}
	return VideoStream{}, ErrNoVideoStream
}

// CheckDecoder opens a decoder for the video stream to confirm the file can
// be decoded with this build of libavcodec.
func (p *Prober) CheckDecoder() error {
	if p.stream == nil {
		if _, err := p.VideoStream(); err != nil {
			return err
		}
	}
	cp := p.stream.CodecParameters()
	dec := astiav.FindDecoder(cp.CodecID())
	if dec == nil {
		return fmt.Errorf("no decoder for %s", CodecName(cp.CodecID()))
	}
	cc := astiav.AllocCodecContext(dec)
	if cc == nil {
		return errors.New("failed to allocate decoder context")
	}
	defer cc.Free()
	if err := cp.ToCodecContext(cc); err != nil {
		return fmt.Errorf("failed to copy decoder parameters: %w", err)
	}
	if err := cc.Open(dec, nil); err != nil {
		return fmt.Errorf("failed to open decoder %s: %w", dec.Name(), err)
	}
	return nil
}

func (p *Prober) Close() error {
	if p.fc != nil {
		p.fc.CloseInput()
		p.fc.Free()
		p.fc = nil
	}
	return nil
}
