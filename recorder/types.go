package recorder

import (
	"fmt"
	"image"
	"iter"
)

// PixelLayout identifies how pixel components are laid out in a buffer.
type PixelLayout int

const (
	LayoutUnknown PixelLayout = iota
	// LayoutBGRA is 32-bit packed color, blue first, with a padding/alpha byte.
	LayoutBGRA
	// LayoutRGBA is 32-bit packed color, red first, with alpha.
	LayoutRGBA
	// LayoutBGR24 is 24-bit packed color, blue first.
	LayoutBGR24
	// LayoutI420 is planar YUV 4:2:0 (Y plane, then Cb, then Cr).
	LayoutI420
)

func (l PixelLayout) String() string {
	switch l {
	case LayoutBGRA:
		return "bgra"
	case LayoutRGBA:
		return "rgba"
	case LayoutBGR24:
		return "bgr24"
	case LayoutI420:
		return "yuv420p"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// Packed reports whether all components of a pixel are stored contiguously.
func (l PixelLayout) Packed() bool {
	return l == LayoutBGRA || l == LayoutRGBA || l == LayoutBGR24
}

// BytesPerPixel returns the pixel size of packed layouts and 0 for planar ones.
func (l PixelLayout) BytesPerPixel() int {
	switch l {
	case LayoutBGRA, LayoutRGBA:
		return 4
	case LayoutBGR24:
		return 3
	default:
		return 0
	}
}

// Region is the capture rectangle, fixed for the lifetime of a session.
type Region struct {
	Width  int
	Height int
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Empty reports whether the region has no pixels.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Align rounds both dimensions down to a multiple of n. n below 2 leaves the
// region unchanged.
func (r Region) Align(n int) Region {
	if n < 2 {
		return r
	}
	return Region{Width: r.Width - r.Width%n, Height: r.Height - r.Height%n}
}

// Crops reports whether dst is r with at most one trailing column and row
// dropped, as Align(2) produces. Such a frame is cropped, not resampled.
func (r Region) Crops(dst Region) bool {
	dw, dh := r.Width-dst.Width, r.Height-dst.Height
	return r != dst && !dst.Empty() && dw >= 0 && dw < 2 && dh >= 0 && dh < 2
}

// RawFrame is one snapshot in the source's native packed layout. Stride may be
// larger than Width*BytesPerPixel. The buffer belongs to the source and must be
// released as soon as it has been converted.
type RawFrame struct {
	Layout PixelLayout
	Region Region
	Stride int
	Data   []byte

	release func()
}

// NewRawFrame wraps a captured buffer. release may be nil.
func NewRawFrame(layout PixelLayout, region Region, stride int, data []byte, release func()) *RawFrame {
	return &RawFrame{
		Layout:  layout,
		Region:  region,
		Stride:  stride,
		Data:    data,
		release: release,
	}
}

// Release hands the buffer back to its source. Safe to call more than once.
func (f *RawFrame) Release() {
	if f == nil {
		return
	}
	if f.release != nil {
		f.release()
		f.release = nil
	}
	f.Data = nil
}

// Validate checks that the buffer is large enough for the declared geometry.
func (f *RawFrame) Validate() error {
	if !f.Layout.Packed() {
		return fmt.Errorf("raw frame layout %s is not packed", f.Layout)
	}
	if f.Region.Empty() {
		return fmt.Errorf("raw frame region %s is empty", f.Region)
	}
	rowBytes := f.Region.Width * f.Layout.BytesPerPixel()
	if f.Stride < rowBytes {
		return fmt.Errorf("raw frame stride %d shorter than row of %d bytes", f.Stride, rowBytes)
	}
	need := f.Stride*(f.Region.Height-1) + rowBytes
	if len(f.Data) < need {
		return fmt.Errorf("raw frame holds %d bytes, need %d for %s at stride %d", len(f.Data), need, f.Region, f.Stride)
	}
	return nil
}

// Frame is the encoder input: a single I420 buffer that is allocated once per
// session and overwritten in place on every iteration.
type Frame struct {
	Layout PixelLayout
	Region Region
	PTS    int64

	buf     []byte
	Y       []byte
	Cb      []byte
	Cr      []byte
	YStride int
	CStride int
}

// ChromaRegion returns the dimensions of the Cb/Cr planes of an I420 frame.
func ChromaRegion(r Region) Region {
	return Region{Width: (r.Width + 1) / 2, Height: (r.Height + 1) / 2}
}

// NewFrame allocates a tightly packed planar frame.
func NewFrame(layout PixelLayout, region Region) (*Frame, error) {
	if layout != LayoutI420 {
		return nil, fmt.Errorf("frame layout %s not supported", layout)
	}
	if region.Empty() {
		return nil, fmt.Errorf("frame region %s is empty", region)
	}
	c := ChromaRegion(region)
	ySize := region.Width * region.Height
	cSize := c.Width * c.Height
	buf := make([]byte, ySize+2*cSize)
	return &Frame{
		Layout:  layout,
		Region:  region,
		buf:     buf,
		Y:       buf[:ySize:ySize],
		Cb:      buf[ySize : ySize+cSize : ySize+cSize],
		Cr:      buf[ySize+cSize:],
		YStride: region.Width,
		CStride: c.Width,
	}, nil
}

// Bytes returns the planes as one contiguous buffer (Y, Cb, Cr, no padding).
func (f *Frame) Bytes() []byte {
	return f.buf
}

// YCbCr exposes the frame as an image sharing the same memory.
func (f *Frame) YCbCr() *image.YCbCr {
	return &image.YCbCr{
		Y:              f.Y,
		Cb:             f.Cb,
		Cr:             f.Cr,
		YStride:        f.YStride,
		CStride:        f.CStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Region.Width, f.Region.Height),
	}
}

// Packet is one unit of compressed output. Timestamps are in the time base of
// whoever produced it until rescaled.
type Packet struct {
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	Key         bool
	StreamIndex int
}

// Rescale converts the packet's timestamps between time bases.
func (p *Packet) Rescale(from, to Rational) {
	p.PTS = Rescale(p.PTS, from, to)
	p.DTS = Rescale(p.DTS, from, to)
	if p.Duration > 0 {
		p.Duration = Rescale(p.Duration, from, to)
	}
}

// EncoderConfig is the parameter set an encoder is opened with.
type EncoderConfig struct {
	Codec      string
	Layout     PixelLayout
	Width      int
	Height     int
	TimeBase   Rational
	FrameRate  Rational
	GOPSize    int
	MaxBFrames int
	BitRate    int64
	QMin       int
	QMax       int
	// Preset and Tune are optional speed/latency hints ("fast", "zerolatency").
	Preset string
	Tune   string
	// Quality is used by intra-only encoders (JPEG quality 1-100).
	Quality int
	// GlobalHeader asks for codec headers out of band, as MP4 expects.
	GlobalHeader bool

	// OnRejected is told about non-essential options the encoder refused.
	OnRejected func(option, value string, err error)
}

// StreamConfig describes the stream an encoder produces, for the muxer.
type StreamConfig struct {
	Codec     string
	Width     int
	Height    int
	TimeBase  Rational
	FrameRate Rational
	BitRate   int64
	// Parameters carries backend specific codec parameters between an encoder
	// and a muxer of the same backend.
	Parameters any
}

// ScreenSource produces raw snapshots of a fixed region.
type ScreenSource interface {
	Region() Region
	Capture() (*RawFrame, error)
	Close() error
}

// Converter transforms a raw frame into the encoder frame in place.
type Converter interface {
	Convert(raw *RawFrame, dst *Frame) error
	Close() error
}

// Encoder compresses frames. Submit(nil) signals end of input.
type Encoder interface {
	Submit(frame *Frame) error
	// Drain yields packets until the encoder needs more input or reaches end
	// of stream. An error ends the sequence.
	Drain() iter.Seq2[Packet, error]
	TimeBase() Rational
	Stream() StreamConfig
	Close() error
}

// Writer persists packets into a container.
type Writer interface {
	WriteHeader() error
	WritePacket(pkt Packet) error
	WriteTrailer() error
	// StreamTimeBase is only meaningful after WriteHeader; muxers may change it.
	StreamTimeBase() Rational
	StreamIndex() int
	Close() error
}

// Backends opens the components of a session. They are called in the order
// source, encoder, writer; the converter factory is called once, lazily.
type Backends struct {
	OpenSource   func() (ScreenSource, error)
	OpenEncoder  func(cfg EncoderConfig) (Encoder, error)
	OpenWriter   func(path string, stream StreamConfig) (Writer, error)
	NewConverter func(srcLayout PixelLayout, src Region, dstLayout PixelLayout, dst Region) (Converter, error)

	// SizeAlignment is the multiple the encoder needs its dimensions to be;
	// 4:2:0 H.264 encoders want 2. Zero keeps the capture region exact.
	SizeAlignment int
}
