package recorder

import (
	"bytes"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawFrameValidate(t *testing.T) {
	region := Region{Width: 10, Height: 3}
	tests := []struct {
		name    string
		frame   *RawFrame
		wantErr bool
	}{
		{"tight bgra", NewRawFrame(LayoutBGRA, region, 40, make([]byte, 120), nil), false},
		{"padded bgr24", NewRawFrame(LayoutBGR24, region, 32, make([]byte, 96), nil), false},
		{"last row without padding", NewRawFrame(LayoutBGR24, region, 32, make([]byte, 94), nil), false},
		{"short buffer", NewRawFrame(LayoutBGRA, region, 40, make([]byte, 119), nil), true},
		{"stride shorter than row", NewRawFrame(LayoutBGRA, region, 36, make([]byte, 200), nil), true},
		{"planar layout", NewRawFrame(LayoutI420, region, 10, make([]byte, 200), nil), true},
		{"empty region", NewRawFrame(LayoutBGRA, Region{}, 0, nil, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.frame.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRawFrameRelease(t *testing.T) {
	released := 0
	f := NewRawFrame(LayoutBGRA, Region{Width: 1, Height: 1}, 4, make([]byte, 4), func() { released++ })
	f.Release()
	f.Release()
	assert.Equal(t, 1, released)
	assert.Nil(t, f.Data)

	var nilFrame *RawFrame
	nilFrame.Release()
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(LayoutI420, Region{Width: 5, Height: 3})
	require.NoError(t, err)
	assert.Len(t, f.Y, 15)
	assert.Len(t, f.Cb, 6)
	assert.Len(t, f.Cr, 6)
	assert.Len(t, f.Bytes(), 27)
	assert.Equal(t, 5, f.YStride)
	assert.Equal(t, 3, f.CStride)

	// Planes share the single buffer in Y, Cb, Cr order.
	f.Cb[0] = 7
	assert.Equal(t, byte(7), f.Bytes()[15])
	f.Cr[5] = 9
	assert.Equal(t, byte(9), f.Bytes()[26])

	img := f.YCbCr()
	assert.Equal(t, image.Rect(0, 0, 5, 3), img.Bounds())
	assert.Equal(t, image.YCbCrSubsampleRatio420, img.SubsampleRatio)
	img.Y[0] = 200
	assert.Equal(t, byte(200), f.Y[0])

	_, err = NewFrame(LayoutBGRA, Region{Width: 2, Height: 2})
	assert.Error(t, err)
	_, err = NewFrame(LayoutI420, Region{})
	assert.Error(t, err)
}

func TestPixelLayout(t *testing.T) {
	assert.Equal(t, "bgra", LayoutBGRA.String())
	assert.Equal(t, "yuv420p", LayoutI420.String())
	assert.Equal(t, 3, LayoutBGR24.BytesPerPixel())
	assert.Equal(t, 0, LayoutI420.BytesPerPixel())
	assert.True(t, LayoutRGBA.Packed())
	assert.False(t, LayoutI420.Packed())
	assert.Equal(t, "1920x1080", Region{Width: 1920, Height: 1080}.String())
}

func TestPoolOf(t *testing.T) {
	pool := NewPoolOf(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)
	b := pool.Get()
	b.WriteString("frame")
	pool.Put(b)
	assert.Equal(t, 0, b.Len(), "reset runs on Put")
	assert.Equal(t, 0, pool.Get().Len())
}

func TestSummaryRoundTrip(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	result := Result{
		State:        StateAborted,
		StartedAt:    started,
		Elapsed:      1500 * time.Millisecond,
		Frames:       9,
		Packets:      9,
		Bytes:        12345,
		Overruns:     2,
		Region:       Region{Width: 1920, Height: 1080},
		SourceLayout: LayoutBGRA,
		Err:          stageError(StageCapture, ErrCaptureFailed),
	}
	summary := result.Summary("abc", "out.mp4", 5*time.Second, 15)
	assert.Equal(t, "2024-05-01T10:00:00Z", summary.StartedAt)
	assert.Equal(t, "capture", summary.FailedAt)
	assert.Equal(t, "aborted", summary.State)
	assert.Equal(t, "1920x1080", summary.Region)
	assert.Equal(t, "bgra", summary.Layout)

	path := SummaryPath(filepath.Join(t.TempDir(), "out.mp4"))
	assert.Equal(t, ".json", filepath.Ext(path))
	require.NoError(t, WriteSummary(path, summary))
	got, err := ReadSummary(path)
	require.NoError(t, err)
	assert.Equal(t, summary, got)
}

func TestRegionAlignAndCrops(t *testing.T) {
	r := Region{Width: 33, Height: 21}
	assert.Equal(t, r, r.Align(0))
	assert.Equal(t, r, r.Align(1))
	assert.Equal(t, Region{Width: 32, Height: 20}, r.Align(2))
	assert.Equal(t, Region{Width: 32, Height: 16}, r.Align(16))

	tests := []struct {
		dst  Region
		want bool
	}{
		{Region{Width: 32, Height: 20}, true},
		{Region{Width: 33, Height: 20}, true},
		{Region{Width: 32, Height: 21}, true},
		{Region{Width: 33, Height: 21}, false},
		{Region{Width: 31, Height: 21}, false},
		{Region{Width: 34, Height: 21}, false},
		{Region{Width: 16, Height: 10}, false},
		{Region{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.dst.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, r.Crops(tt.dst))
		})
	}
}
