// Package convert turns packed RGB snapshots into planar I420 frames without
// cgo. Colors use BT.601 limited range; chroma is the average of each 2x2
// block. When the source and destination regions differ the snapshot is
// resampled with a Catmull-Rom kernel first.
package convert

import (
	"fmt"
	"image"

	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"golang.org/x/image/draw"
)

// channels holds the byte offsets of R, G and B inside one packed pixel.
type channels struct {
	r, g, b int
	bpp     int
}

func channelsOf(layout recorder.PixelLayout) (channels, error) {
	switch layout {
	case recorder.LayoutBGRA:
		return channels{r: 2, g: 1, b: 0, bpp: 4}, nil
	case recorder.LayoutRGBA:
		return channels{r: 0, g: 1, b: 2, bpp: 4}, nil
	case recorder.LayoutBGR24:
		return channels{r: 2, g: 1, b: 0, bpp: 3}, nil
	default:
		return channels{}, fmt.Errorf("unsupported source layout %s", layout)
	}
}

var rgba = channels{r: 0, g: 1, b: 2, bpp: 4}

// Native is a pure Go converter from packed RGB layouts to I420.
type Native struct {
	srcLayout recorder.PixelLayout
	src       recorder.Region
	dst       recorder.Region
	ch        channels

	// scratch images, only allocated when resampling. An aligned crop
	// (see recorder.Region.Crops) converts in place instead.
	scaleSrc *image.RGBA
	scaleDst *image.RGBA
}

func New(srcLayout recorder.PixelLayout, src recorder.Region, dstLayout recorder.PixelLayout, dst recorder.Region) (*Native, error) {
	ch, err := channelsOf(srcLayout)
	if err != nil {
		return nil, err
	}
	if dstLayout != recorder.LayoutI420 {
		return nil, fmt.Errorf("unsupported destination layout %s", dstLayout)
	}
	if src.Empty() || dst.Empty() {
		return nil, fmt.Errorf("cannot convert %s to %s", src, dst)
	}
	c := &Native{
		srcLayout: srcLayout,
		src:       src,
		dst:       dst,
		ch:        ch,
	}
	if src != dst && !src.Crops(dst) {
		if srcLayout != recorder.LayoutRGBA {
			c.scaleSrc = image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
		}
		c.scaleDst = image.NewRGBA(image.Rect(0, 0, dst.Width, dst.Height))
	}
	return c, nil
}

// Factory adapts New to the signature sessions expect.
func Factory(srcLayout recorder.PixelLayout, src recorder.Region, dstLayout recorder.PixelLayout, dst recorder.Region) (recorder.Converter, error) {
	return New(srcLayout, src, dstLayout, dst)
}

func (c *Native) Convert(raw *recorder.RawFrame, dst *recorder.Frame) error {
	if err := raw.Validate(); err != nil {
		return err
	}
	if raw.Layout != c.srcLayout || raw.Region != c.src {
		return fmt.Errorf("frame is %s %s, expected %s %s", raw.Layout, raw.Region, c.srcLayout, c.src)
	}
	if dst.Layout != recorder.LayoutI420 || dst.Region != c.dst {
		return fmt.Errorf("destination is %s %s, expected %s %s", dst.Layout, dst.Region, recorder.LayoutI420, c.dst)
	}

	if c.scaleDst == nil {
		// Same size, or an aligned crop reading the top-left of the frame.
		toI420(raw.Data, raw.Stride, c.ch, c.dst, dst)
		return nil
	}

	var src *image.RGBA
	if c.scaleSrc == nil {
		src = &image.RGBA{Pix: raw.Data, Stride: raw.Stride, Rect: image.Rect(0, 0, c.src.Width, c.src.Height)}
	} else {
		src = c.scaleSrc
		swizzle(raw.Data, raw.Stride, c.ch, c.src, src)
	}
	draw.CatmullRom.Scale(c.scaleDst, c.scaleDst.Bounds(), src, src.Bounds(), draw.Src, nil)
	toI420(c.scaleDst.Pix, c.scaleDst.Stride, rgba, c.dst, dst)
	return nil
}

func (c *Native) Close() error {
	c.scaleSrc = nil
	c.scaleDst = nil
	return nil
}

// swizzle copies a packed frame into an opaque RGBA image of the same size.
func swizzle(pix []byte, stride int, ch channels, r recorder.Region, dst *image.RGBA) {
	for y := 0; y < r.Height; y++ {
		in := pix[y*stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < r.Width; x++ {
			p := in[x*ch.bpp:]
			o := out[x*4 : x*4+4 : x*4+4]
			o[0] = p[ch.r]
			o[1] = p[ch.g]
			o[2] = p[ch.b]
			o[3] = 0xff
		}
	}
}

func toI420(pix []byte, stride int, ch channels, r recorder.Region, f *recorder.Frame) {
	for y := 0; y < r.Height; y++ {
		in := pix[y*stride:]
		out := f.Y[y*f.YStride:]
		for x := 0; x < r.Width; x++ {
			p := in[x*ch.bpp:]
			out[x] = luma(int(p[ch.r]), int(p[ch.g]), int(p[ch.b]))
		}
	}

	c := recorder.ChromaRegion(r)
	for cy := 0; cy < c.Height; cy++ {
		y0 := cy * 2
		y1 := min(y0+1, r.Height-1)
		row0 := pix[y0*stride:]
		row1 := pix[y1*stride:]
		for cx := 0; cx < c.Width; cx++ {
			x0 := cx * 2 * ch.bpp
			x1 := min(cx*2+1, r.Width-1) * ch.bpp
			red := int(row0[x0+ch.r]) + int(row0[x1+ch.r]) + int(row1[x0+ch.r]) + int(row1[x1+ch.r])
			green := int(row0[x0+ch.g]) + int(row0[x1+ch.g]) + int(row1[x0+ch.g]) + int(row1[x1+ch.g])
			blue := int(row0[x0+ch.b]) + int(row0[x1+ch.b]) + int(row1[x0+ch.b]) + int(row1[x1+ch.b])
			cb, cr := chroma((red+2)>>2, (green+2)>>2, (blue+2)>>2)
			f.Cb[cy*f.CStride+cx] = cb
			f.Cr[cy*f.CStride+cx] = cr
		}
	}
}

func luma(r, g, b int) byte {
	return byte(((66*r + 129*g + 25*b + 128) >> 8) + 16)
}

func chroma(r, g, b int) (cb, cr byte) {
	cb = byte(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
	cr = byte(((112*r - 94*g - 18*b + 128) >> 8) + 128)
	return cb, cr
}
