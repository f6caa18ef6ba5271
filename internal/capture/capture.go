package capture

import (
	"fmt"

	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

const (
	BackendX11        = "x11"
	BackendScreenshot = "screenshot"
)

// Open returns the screen source for backend.
func Open(logger *zap.Logger, backend, display string) (recorder.ScreenSource, error) {
	switch backend {
	case BackendX11, "":
		return OpenX11(logger, display)
	case BackendScreenshot:
		return OpenScreenshot(logger)
	default:
		return nil, fmt.Errorf("%w: unknown capture backend %q", recorder.ErrDisplayUnavailable, backend)
	}
}
