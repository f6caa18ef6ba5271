package mjpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssk-wh/ffmpeg-demo/internal/convert"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

// patternSource serves BGRA frames with a padded stride, like an X server.
type patternSource struct {
	region   recorder.Region
	captures int
	failAt   int
	closed   bool
}

func (s *patternSource) Region() recorder.Region { return s.region }

func (s *patternSource) Capture() (*recorder.RawFrame, error) {
	s.captures++
	if s.failAt > 0 && s.captures == s.failAt {
		return nil, errors.New("display went away")
	}
	stride := s.region.Width*4 + 8
	data := make([]byte, stride*s.region.Height)
	for y := 0; y < s.region.Height; y++ {
		for x := 0; x < s.region.Width; x++ {
			p := data[y*stride+x*4:]
			p[0] = byte(x * 8)
			p[1] = byte(y * 8)
			p[2] = byte(s.captures * 16)
			p[3] = 0xff
		}
	}
	return recorder.NewRawFrame(recorder.LayoutBGRA, s.region, stride, data, nil), nil
}

func (s *patternSource) Close() error {
	s.closed = true
	return nil
}

func backends(logger *zap.Logger, src *patternSource) recorder.Backends {
	return recorder.Backends{
		OpenSource: func() (recorder.ScreenSource, error) { return src, nil },
		OpenEncoder: func(cfg recorder.EncoderConfig) (recorder.Encoder, error) {
			return OpenEncoder(logger, cfg)
		},
		OpenWriter: func(path string, stream recorder.StreamConfig) (recorder.Writer, error) {
			return OpenMuxer(logger, path, stream)
		},
		NewConverter: convert.Factory,
	}
}

func TestSessionRecordsAVI(t *testing.T) {
	logger := testLogger(t)
	src := &patternSource{region: recorder.Region{Width: 33, Height: 21}}
	path := filepath.Join(t.TempDir(), "capture.avi")

	session := recorder.NewSession(logger, recorder.SessionConfig{
		FPS:        5,
		OutputPath: path,
		Encoder:    recorder.EncoderConfig{Codec: CodecName, Preset: "fast"},
		SessionID:  "test",
		Clock:      &fakeClock{now: time.Unix(1700000000, 0)},
	}, backends(logger, src))

	result, err := session.Run(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, recorder.StateFinalized, result.State)
	assert.Equal(t, int64(5), result.Frames)
	assert.Equal(t, 5, result.Packets)
	assert.Equal(t, recorder.LayoutBGRA, result.SourceLayout)
	assert.Equal(t, 1, session.Converter().Initializations())
	assert.True(t, src.closed)

	// JPEG has no even-size constraint, so the capture region is kept.
	assertAVI(t, path, 33, 21)
}

func TestSessionCaptureFailureLeavesPlayableAVI(t *testing.T) {
	logger := testLogger(t)
	src := &patternSource{region: recorder.Region{Width: 16, Height: 16}, failAt: 3}
	path := filepath.Join(t.TempDir(), "capture.avi")

	session := recorder.NewSession(logger, recorder.SessionConfig{
		FPS:        5,
		OutputPath: path,
		Encoder:    recorder.EncoderConfig{Codec: CodecName},
		Clock:      &fakeClock{now: time.Unix(1700000000, 0)},
	}, backends(logger, src))

	result, err := session.Run(context.Background(), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, recorder.ErrCaptureFailed)
	stage, ok := recorder.FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, recorder.StageCapture, stage)
	assert.Equal(t, recorder.StateAborted, result.State)
	assert.Equal(t, int64(2), result.Frames)
	assert.True(t, src.closed)

	assertAVI(t, path, 16, 16)
}

func TestSessionUnwritableOutput(t *testing.T) {
	logger := testLogger(t)
	src := &patternSource{region: recorder.Region{Width: 16, Height: 16}}
	path := filepath.Join(t.TempDir(), "missing", "capture.avi")

	session := recorder.NewSession(logger, recorder.SessionConfig{
		FPS:        5,
		OutputPath: path,
		Encoder:    recorder.EncoderConfig{Codec: CodecName},
		Clock:      &fakeClock{now: time.Unix(1700000000, 0)},
	}, backends(logger, src))

	result, err := session.Run(context.Background(), time.Second)
	assert.ErrorIs(t, err, recorder.ErrOutputOpenFailed)
	assert.Equal(t, recorder.StateAborted, result.State)
	assert.Equal(t, 0, src.captures)
	assert.True(t, src.closed)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
