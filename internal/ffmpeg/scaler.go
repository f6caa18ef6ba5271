package ffmpeg

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
)

func pixelFormat(layout recorder.PixelLayout) (astiav.PixelFormat, error) {
	switch layout {
	case recorder.LayoutBGRA:
		return astiav.PixelFormatBgra, nil
	case recorder.LayoutRGBA:
		return astiav.PixelFormatRgba, nil
	case recorder.LayoutBGR24:
		return astiav.PixelFormatBgr24, nil
	case recorder.LayoutI420:
		return astiav.PixelFormatYuv420P, nil
	default:
		return astiav.PixelFormatNone, fmt.Errorf("no pixel format for layout %s", layout)
	}
}

// Scaler converts packed frames to I420 with libswscale.
type Scaler struct {
	ssc    *astiav.SoftwareScaleContext
	src    *astiav.Frame
	dst    *astiav.Frame
	layout recorder.PixelLayout
	region recorder.Region
	// in is the part of region fed to swscale: region itself, or the aligned
	// crop when out only drops a trailing row or column.
	in  recorder.Region
	out recorder.Region

	// tight holds a copy of the raw rows without stride padding.
	tight []byte
}

func NewScaler(srcLayout recorder.PixelLayout, src recorder.Region, dstLayout recorder.PixelLayout, dst recorder.Region) (*Scaler, error) {
	if !srcLayout.Packed() {
		return nil, fmt.Errorf("unsupported source layout %s", srcLayout)
	}
	if dstLayout != recorder.LayoutI420 {
		return nil, fmt.Errorf("unsupported destination layout %s", dstLayout)
	}
	srcFormat, err := pixelFormat(srcLayout)
	if err != nil {
		return nil, err
	}
	in := src
	if src.Crops(dst) {
		in = dst
	}
	ssc, err := astiav.CreateSoftwareScaleContext(in.Width, in.Height, srcFormat, dst.Width, dst.Height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBicubic))
	if err != nil {
		return nil, fmt.Errorf("creating scale context: %w", err)
	}

	s := &Scaler{
		ssc:    ssc,
		src:    astiav.AllocFrame(),
		dst:    astiav.AllocFrame(),
		layout: srcLayout,
		region: src,
		in:     in,
		out:    dst,
		tight:  make([]byte, in.Width*srcLayout.BytesPerPixel()*in.Height),
	}
	for _, f := range []struct {
		frame  *astiav.Frame
		format astiav.PixelFormat
		region recorder.Region
	}{{s.src, srcFormat, in}, {s.dst, astiav.PixelFormatYuv420P, dst}} {
		f.frame.SetWidth(f.region.Width)
		f.frame.SetHeight(f.region.Height)
		f.frame.SetPixelFormat(f.format)
		if err := f.frame.AllocBuffer(0); err != nil {
			s.Close()
			return nil, fmt.Errorf("allocating %s frame: %w", f.region, err)
		}
	}
	return s, nil
}

// Factory adapts NewScaler to the signature sessions expect.
func Factory(srcLayout recorder.PixelLayout, src recorder.Region, dstLayout recorder.PixelLayout, dst recorder.Region) (recorder.Converter, error) {
	return NewScaler(srcLayout, src, dstLayout, dst)
}

func (s *Scaler) Convert(raw *recorder.RawFrame, dst *recorder.Frame) error {
	if err := raw.Validate(); err != nil {
		return err
	}
	if raw.Layout != s.layout || raw.Region != s.region {
		return fmt.Errorf("frame is %s %s, expected %s %s", raw.Layout, raw.Region, s.layout, s.region)
	}
	if dst.Region != s.out {
		return fmt.Errorf("destination is %s, expected %s", dst.Region, s.out)
	}

	row := s.in.Width * s.layout.BytesPerPixel()
	for y := 0; y < s.in.Height; y++ {
		copy(s.tight[y*row:(y+1)*row], raw.Data[y*raw.Stride:])
	}
	if err := s.src.MakeWritable(); err != nil {
		return err
	}
	if err := s.src.Data().SetBytes(s.tight, 1); err != nil {
		return err
	}
	if err := s.ssc.ScaleFrame(s.src, s.dst); err != nil {
		return err
	}
	planes, err := s.dst.Data().Bytes(1)
	if err != nil {
		return err
	}
	if len(planes) != len(dst.Bytes()) {
		return fmt.Errorf("scaled frame holds %d bytes, expected %d", len(planes), len(dst.Bytes()))
	}
	copy(dst.Bytes(), planes)
	return nil
}

func (s *Scaler) Close() error {
	if s.src != nil {
		s.src.Free()
		s.src = nil
	}
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
	return nil
}
