package capture

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

// primaryDisplay is the only display recorded; display selection is not
// supported.
const primaryDisplay = 0

// ScreenshotSource captures the primary display through kbinani/screenshot.
type ScreenshotSource struct {
	logger *zap.Logger
	bounds image.Rectangle
	region recorder.Region
}

func OpenScreenshot(logger *zap.Logger) (*ScreenshotSource, error) {
	if n := screenshot.NumActiveDisplays(); n <= primaryDisplay {
		return nil, fmt.Errorf("%w: no active displays", recorder.ErrDisplayUnavailable)
	}
	bounds := screenshot.GetDisplayBounds(primaryDisplay)
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: primary display has empty bounds", recorder.ErrDisplayUnavailable)
	}
	s := &ScreenshotSource{
		logger: logger.With(zap.String("component", "screenshot_source")),
		bounds: bounds,
		region: recorder.Region{Width: bounds.Dx(), Height: bounds.Dy()},
	}
	s.logger.Debug("Using primary display", zap.Stringer("bounds", bounds))
	return s, nil
}

func (s *ScreenshotSource) Region() recorder.Region {
	return s.region
}

func (s *ScreenshotSource) Capture() (*recorder.RawFrame, error) {
	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", recorder.ErrCaptureFailed, err)
	}
	if img.Rect.Dx() != s.region.Width || img.Rect.Dy() != s.region.Height {
		return nil, fmt.Errorf("%w: captured %dx%d, expected %s", recorder.ErrCaptureFailed, img.Rect.Dx(), img.Rect.Dy(), s.region)
	}
	return recorder.NewRawFrame(recorder.LayoutRGBA, s.region, img.Stride, img.Pix, nil), nil
}

func (s *ScreenshotSource) Close() error {
	return nil
}
