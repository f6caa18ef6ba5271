package capture

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

const allPlanes = 0xffffffff

// X11Source snapshots the root window of an X display.
type X11Source struct {
	logger *zap.Logger
	conn   *xgb.Conn
	root   xproto.Window
	region recorder.Region

	formats   []xproto.Format
	byteOrder byte

	// layout is fixed by the first capture.
	layout recorder.PixelLayout
}

// OpenX11 connects to display, or $DISPLAY when display is empty.
func OpenX11(logger *zap.Logger, display string) (*X11Source, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to X display %q: %v", recorder.ErrDisplayUnavailable, display, err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	if screen == nil {
		conn.Close()
		return nil, fmt.Errorf("%w: X display %q has no default screen", recorder.ErrDisplayUnavailable, display)
	}

	s := &X11Source{
		logger:    logger.With(zap.String("component", "x11_source")),
		conn:      conn,
		root:      screen.Root,
		region:    recorder.Region{Width: int(screen.WidthInPixels), Height: int(screen.HeightInPixels)},
		formats:   setup.PixmapFormats,
		byteOrder: setup.ImageByteOrder,
	}
	s.logger.Debug("Connected to X display",
		zap.String("display", display),
		zap.Stringer("region", s.region),
		zap.Uint8("root_depth", screen.RootDepth))
	return s, nil
}

func (s *X11Source) Region() recorder.Region {
	return s.region
}

// Capture grabs the whole root window as a ZPixmap image.
func (s *X11Source) Capture() (*recorder.RawFrame, error) {
	reply, err := xproto.GetImage(s.conn, xproto.ImageFormatZPixmap, xproto.Drawable(s.root),
		0, 0, uint16(s.region.Width), uint16(s.region.Height), allPlanes).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: GetImage: %v", recorder.ErrCaptureFailed, err)
	}

	layout, stride, err := pixmapLayout(s.formats, reply.Depth, s.byteOrder, s.region.Width)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", recorder.ErrCaptureFailed, err)
	}
	if s.layout == recorder.LayoutUnknown {
		s.layout = layout
		s.logger.Debug("Detected X image layout",
			zap.Stringer("layout", layout),
			zap.Uint8("depth", reply.Depth),
			zap.Int("stride", stride))
	} else if layout != s.layout {
		return nil, fmt.Errorf("%w: image layout changed from %s to %s", recorder.ErrCaptureFailed, s.layout, layout)
	}
	if len(reply.Data) < stride*s.region.Height {
		return nil, fmt.Errorf("%w: image holds %d bytes, expected %d", recorder.ErrCaptureFailed, len(reply.Data), stride*s.region.Height)
	}
	return recorder.NewRawFrame(layout, s.region, stride, reply.Data, nil), nil
}

func (s *X11Source) Close() error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// pixmapLayout maps the server's pixmap format for depth to a packed layout
// and the row stride of a ZPixmap image width pixels wide.
func pixmapLayout(formats []xproto.Format, depth byte, byteOrder byte, width int) (recorder.PixelLayout, int, error) {
	for _, f := range formats {
		if f.Depth != depth {
			continue
		}
		if byteOrder != xproto.ImageOrderLSBFirst {
			return recorder.LayoutUnknown, 0, fmt.Errorf("unsupported image byte order %d", byteOrder)
		}
		var layout recorder.PixelLayout
		switch f.BitsPerPixel {
		case 32:
			layout = recorder.LayoutBGRA
		case 24:
			layout = recorder.LayoutBGR24
		default:
			return recorder.LayoutUnknown, 0, fmt.Errorf("unsupported %d bits per pixel at depth %d", f.BitsPerPixel, depth)
		}
		pad := int(f.ScanlinePad)
		if pad == 0 {
			pad = 32
		}
		bits := width * int(f.BitsPerPixel)
		stride := (bits + pad - 1) / pad * pad / 8
		return layout, stride, nil
	}
	return recorder.LayoutUnknown, 0, fmt.Errorf("no pixmap format for depth %d", depth)
}
