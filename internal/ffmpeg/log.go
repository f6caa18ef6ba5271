package ffmpeg

import (
	"strings"

	"github.com/asticode/go-astiav"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BridgeLogs routes libav* log lines into logger. libav is only as verbose as
// the logger: warnings and above unless debug logging is enabled.
func BridgeLogs(logger *zap.Logger) {
	logger = logger.With(zap.String("component", "libav"))
	if logger.Core().Enabled(zap.DebugLevel) {
		astiav.SetLogLevel(astiav.LogLevelVerbose)
	} else {
		astiav.SetLogLevel(astiav.LogLevelWarning)
	}
	astiav.SetLogCallback(func(c astiav.Classer, l astiav.LogLevel, _, msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		fields := make([]zap.Field, 0, 1)
		if c != nil {
			if cl := c.Class(); cl != nil {
				fields = append(fields, zap.String("class", cl.Name()))
			}
		}
		if ce := logger.Check(zapLevel(l), msg); ce != nil {
			ce.Write(fields...)
		}
	})
}

// ResetLogs restores libav's default stderr logging.
func ResetLogs() {
	astiav.ResetLogCallback()
}

func zapLevel(l astiav.LogLevel) zapcore.Level {
	switch {
	case l <= astiav.LogLevelError:
		return zapcore.ErrorLevel
	case l <= astiav.LogLevelWarning:
		return zapcore.WarnLevel
	case l <= astiav.LogLevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
