package mjpeg

import (
	"bytes"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func testEncoderConfig() recorder.EncoderConfig {
	return recorder.EncoderConfig{
		Codec:     CodecName,
		Layout:    recorder.LayoutI420,
		Width:     32,
		Height:    16,
		TimeBase:  recorder.NewRational(1, 10),
		FrameRate: recorder.NewRational(10, 1),
	}
}

func grayFrame(t *testing.T, region recorder.Region, pts int64) *recorder.Frame {
	t.Helper()
	f, err := recorder.NewFrame(recorder.LayoutI420, region)
	require.NoError(t, err)
	for i := range f.Y {
		f.Y[i] = 128
	}
	for i := range f.Cb {
		f.Cb[i] = 128
		f.Cr[i] = 128
	}
	f.PTS = pts
	return f
}

func drainAll(t *testing.T, enc recorder.Encoder) []recorder.Packet {
	t.Helper()
	var out []recorder.Packet
	for pkt, err := range enc.Drain() {
		require.NoError(t, err)
		out = append(out, pkt)
	}
	return out
}

func TestOpenEncoderValidation(t *testing.T) {
	logger := testLogger(t)

	cfg := testEncoderConfig()
	cfg.Codec = "libx264"
	_, err := OpenEncoder(logger, cfg)
	assert.True(t, errors.Is(err, recorder.ErrEncoderUnavailable), "got %v", err)

	cfg = testEncoderConfig()
	cfg.Quality = 101
	_, err = OpenEncoder(logger, cfg)
	assert.True(t, errors.Is(err, recorder.ErrConfigurationRejected), "got %v", err)

	cfg = testEncoderConfig()
	cfg.Layout = recorder.LayoutBGRA
	_, err = OpenEncoder(logger, cfg)
	assert.True(t, errors.Is(err, recorder.ErrConfigurationRejected), "got %v", err)
}

func TestOpenEncoderReportsIgnoredOptions(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.Preset = "fast"
	cfg.Tune = "zerolatency"
	cfg.MaxBFrames = 2
	rejected := map[string]string{}
	cfg.OnRejected = func(option, value string, err error) {
		assert.ErrorIs(t, err, recorder.ErrConfigurationRejected)
		rejected[option] = value
	}

	_, err := OpenEncoder(testLogger(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"preset":       "fast",
		"tune":         "zerolatency",
		"max_b_frames": "2",
	}, rejected)
}

func TestEncoderProducesKeyFramesInOrder(t *testing.T) {
	cfg := testEncoderConfig()
	enc, err := OpenEncoder(testLogger(t), cfg)
	require.NoError(t, err)
	region := recorder.Region{Width: cfg.Width, Height: cfg.Height}

	for pts := int64(0); pts < 3; pts++ {
		require.NoError(t, enc.Submit(grayFrame(t, region, pts)))
	}
	packets := drainAll(t, enc)
	require.Len(t, packets, 3)
	for i, pkt := range packets {
		assert.Equal(t, int64(i), pkt.PTS)
		assert.Equal(t, pkt.PTS, pkt.DTS)
		assert.True(t, pkt.Key)

		img, err := jpeg.Decode(bytes.NewReader(pkt.Data))
		require.NoError(t, err)
		assert.Equal(t, cfg.Width, img.Bounds().Dx())
		assert.Equal(t, cfg.Height, img.Bounds().Dy())
	}
	assert.Empty(t, drainAll(t, enc))

	require.NoError(t, enc.Submit(nil))
	assert.Empty(t, drainAll(t, enc))
	assert.ErrorIs(t, enc.Submit(grayFrame(t, region, 3)), recorder.ErrEncodeRejected)
}

func TestEncoderRejectsBadFrames(t *testing.T) {
	cfg := testEncoderConfig()
	enc, err := OpenEncoder(testLogger(t), cfg)
	require.NoError(t, err)

	assert.ErrorIs(t, enc.Submit(grayFrame(t, recorder.Region{Width: 8, Height: 8}, 0)), recorder.ErrEncodeRejected)

	region := recorder.Region{Width: cfg.Width, Height: cfg.Height}
	require.NoError(t, enc.Submit(grayFrame(t, region, 5)))
	assert.ErrorIs(t, enc.Submit(grayFrame(t, region, 5)), recorder.ErrEncodeRejected)
}

func TestMuxerWritesAVI(t *testing.T) {
	logger := testLogger(t)
	cfg := testEncoderConfig()
	enc, err := OpenEncoder(logger, cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.avi")
	mux, err := OpenMuxer(logger, path, enc.Stream())
	require.NoError(t, err)
	assert.Equal(t, recorder.NewRational(1, 10), mux.StreamTimeBase())
	assert.Equal(t, 0, mux.StreamIndex())

	require.NoError(t, mux.WriteHeader())
	region := recorder.Region{Width: cfg.Width, Height: cfg.Height}
	for pts := int64(0); pts < 4; pts++ {
		require.NoError(t, enc.Submit(grayFrame(t, region, pts)))
		for _, pkt := range drainAll(t, enc) {
			require.NoError(t, mux.WritePacket(pkt))
		}
	}
	require.NoError(t, mux.WriteTrailer())
	require.NoError(t, mux.Close())
	assert.Error(t, mux.WritePacket(recorder.Packet{}))

	assertAVI(t, path, cfg.Width, cfg.Height)
}

func TestOpenMuxerRejectsForeignStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.avi")
	_, err := OpenMuxer(testLogger(t), path, recorder.StreamConfig{Codec: "h264", Width: 2, Height: 2, FrameRate: recorder.NewRational(10, 1)})
	assert.ErrorIs(t, err, recorder.ErrOutputOpenFailed)

	_, err = OpenMuxer(testLogger(t), path, recorder.StreamConfig{Codec: CodecName, Width: 2, Height: 2})
	assert.ErrorIs(t, err, recorder.ErrOutputOpenFailed)
}

func TestOpenMuxerUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.avi")
	_, err := OpenMuxer(testLogger(t), path, recorder.StreamConfig{Codec: CodecName, Width: 2, Height: 2, FrameRate: recorder.NewRational(10, 1)})
	assert.ErrorIs(t, err, recorder.ErrOutputOpenFailed)
}

// assertAVI checks the RIFF framing and that the first picture decodes at the
// expected size.
func assertAVI(t *testing.T, path string, width, height int) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 12)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "AVI ", string(data[8:12]))
	assert.True(t, bytes.Contains(data, []byte("movi")), "missing movi list")
	assert.True(t, bytes.Contains(data, []byte("idx1")), "missing index")

	soi := bytes.Index(data, []byte{0xff, 0xd8, 0xff})
	require.GreaterOrEqual(t, soi, 0, "no JPEG picture in file")
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data[soi:]))
	require.NoError(t, err)
	assert.Equal(t, width, cfg.Width)
	assert.Equal(t, height, cfg.Height)
}
