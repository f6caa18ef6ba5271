package recorder

import (
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// events records the order in which fakes are called across components.
type events []string

func (e *events) add(s string) { *e = append(*e, s) }

type fakeSource struct {
	log    *events
	clock  *fakeClock
	region Region
	layout PixelLayout
	// pad is added to every row.
	pad int
	// work is how long each capture takes on the fake clock.
	work time.Duration

	captures int
	failAt   int
	// resizeAt changes the reported region from that capture on.
	resizeAt int
	released int
	closed   int
	// outstanding counts captured frames not yet released.
	outstanding int
}

func (s *fakeSource) Region() Region { return s.region }

func (s *fakeSource) Capture() (*RawFrame, error) {
	if s.outstanding > 0 {
		return nil, fmt.Errorf("capture %d while %d frame(s) are still held", s.captures+1, s.outstanding)
	}
	s.captures++
	if s.clock != nil {
		s.clock.advance(s.work)
	}
	if s.failAt > 0 && s.captures == s.failAt {
		return nil, errors.New("XGetImage failed")
	}
	region := s.region
	if s.resizeAt > 0 && s.captures >= s.resizeAt {
		region = Region{Width: region.Width + 2, Height: region.Height}
	}
	layout := s.layout
	if layout == LayoutUnknown {
		layout = LayoutBGRA
	}
	stride := region.Width*layout.BytesPerPixel() + s.pad
	data := make([]byte, stride*region.Height)
	for i := range data {
		data[i] = byte(s.captures)
	}
	s.outstanding++
	return NewRawFrame(layout, region, stride, data, func() {
		s.released++
		s.outstanding--
	}), nil
}

func (s *fakeSource) Close() error {
	s.closed++
	if s.log != nil {
		s.log.add("source.close")
	}
	return nil
}

type fakeConverter struct {
	log     *events
	seen    []int
	closed  int
	failErr error
}

func (c *fakeConverter) Convert(raw *RawFrame, dst *Frame) error {
	if c.failErr != nil {
		return c.failErr
	}
	c.seen = append(c.seen, raw.Stride)
	for i := range dst.Y {
		dst.Y[i] = raw.Data[0]
	}
	return nil
}

func (c *fakeConverter) Close() error {
	c.closed++
	if c.log != nil {
		c.log.add("converter.close")
	}
	return nil
}

// fakeEncoder holds back delay frames, the way an encoder with B-frames
// reorders its output, and hands them out on flush.
type fakeEncoder struct {
	log      *events
	cfg      EncoderConfig
	timeBase Rational
	delay    int

	pending   []int64
	emitted   int64
	ready     []Packet
	submitted []int64
	flushed   bool
	closed    int

	// buffers counts submissions per backing array of the submitted frame.
	buffers map[*byte]int

	failSubmitAt int
	failDrain    error
}

func (e *fakeEncoder) Submit(f *Frame) error {
	if f == nil {
		if e.flushed {
			return errors.New("already flushed")
		}
		e.flushed = true
		if e.log != nil {
			e.log.add("encoder.flush")
		}
		for len(e.pending) > 0 {
			e.emit()
		}
		return nil
	}
	if e.failSubmitAt > 0 && len(e.submitted)+1 == e.failSubmitAt {
		return errors.New("x264 refused frame")
	}
	if e.buffers == nil {
		e.buffers = make(map[*byte]int)
	}
	e.buffers[&f.Bytes()[0]]++
	e.submitted = append(e.submitted, f.PTS)
	e.pending = append(e.pending, f.PTS)
	for len(e.pending) > e.delay {
		e.emit()
	}
	return nil
}

func (e *fakeEncoder) emit() {
	pts := e.pending[0]
	e.pending = e.pending[1:]
	e.ready = append(e.ready, Packet{
		Data:     []byte{0, 0, 0, 1, byte(pts)},
		PTS:      pts,
		DTS:      e.emitted - int64(e.delay),
		Duration: 1,
		Key:      pts%10 == 0,
	})
	e.emitted++
}

func (e *fakeEncoder) Drain() iter.Seq2[Packet, error] {
	return func(yield func(Packet, error) bool) {
		if e.failDrain != nil {
			yield(Packet{}, e.failDrain)
			return
		}
		for len(e.ready) > 0 {
			pkt := e.ready[0]
			e.ready = e.ready[1:]
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (e *fakeEncoder) TimeBase() Rational { return e.timeBase }

func (e *fakeEncoder) Stream() StreamConfig {
	return StreamConfig{Codec: "fake", Width: e.cfg.Width, Height: e.cfg.Height, TimeBase: e.timeBase, FrameRate: e.cfg.FrameRate}
}

func (e *fakeEncoder) Close() error {
	e.closed++
	if e.log != nil {
		e.log.add("encoder.close")
	}
	return nil
}

type fakeWriter struct {
	log *events
	// timeBase is reported once the header is written, like MP4 does.
	timeBase Rational
	index    int

	headerErr  error
	packetErr  error
	trailerErr error
	closeErr   error

	header  bool
	trailer bool
	packets []Packet
	closed  int
}

func (w *fakeWriter) WriteHeader() error {
	if w.log != nil {
		w.log.add("writer.header")
	}
	if w.headerErr != nil {
		return w.headerErr
	}
	w.header = true
	return nil
}

func (w *fakeWriter) WritePacket(pkt Packet) error {
	if w.packetErr != nil {
		return w.packetErr
	}
	w.packets = append(w.packets, pkt)
	return nil
}

func (w *fakeWriter) WriteTrailer() error {
	if w.log != nil {
		w.log.add("writer.trailer")
	}
	if w.trailerErr != nil {
		return w.trailerErr
	}
	w.trailer = true
	return nil
}

func (w *fakeWriter) StreamTimeBase() Rational {
	if !w.header {
		return Rational{}
	}
	return w.timeBase
}

func (w *fakeWriter) StreamIndex() int { return w.index }

func (w *fakeWriter) Close() error {
	w.closed++
	if w.log != nil {
		w.log.add("writer.close")
	}
	return w.closeErr
}

// rig bundles a set of fakes wired into Backends.
type rig struct {
	log       events
	clock     *fakeClock
	source    *fakeSource
	converter *fakeConverter
	encoder   *fakeEncoder
	writer    *fakeWriter

	encoderCfg  EncoderConfig
	writerPath  string
	convInits   int
	convParams  []PixelLayout
	sourceErr   error
	encoderErr  error
	writerErr   error
	converterEr error
}

func newRig() *rig {
	r := &rig{clock: newFakeClock()}
	r.source = &fakeSource{log: &r.log, clock: r.clock, region: Region{Width: 64, Height: 36}, pad: 16}
	r.converter = &fakeConverter{log: &r.log}
	r.encoder = &fakeEncoder{log: &r.log, delay: 2}
	r.writer = &fakeWriter{log: &r.log, timeBase: NewRational(1, 15360)}
	return r
}

func (r *rig) backends() Backends {
	return Backends{
		OpenSource: func() (ScreenSource, error) {
			if r.sourceErr != nil {
				return nil, r.sourceErr
			}
			return r.source, nil
		},
		OpenEncoder: func(cfg EncoderConfig) (Encoder, error) {
			r.encoderCfg = cfg
			if r.encoderErr != nil {
				return nil, r.encoderErr
			}
			r.encoder.cfg = cfg
			r.encoder.timeBase = cfg.TimeBase
			return r.encoder, nil
		},
		OpenWriter: func(path string, stream StreamConfig) (Writer, error) {
			r.writerPath = path
			if r.writerErr != nil {
				return nil, r.writerErr
			}
			return r.writer, nil
		},
		NewConverter: func(srcLayout PixelLayout, src Region, dstLayout PixelLayout, dst Region) (Converter, error) {
			r.convInits++
			r.convParams = append(r.convParams, srcLayout)
			if r.converterEr != nil {
				return nil, r.converterEr
			}
			return r.converter, nil
		},
	}
}

func (r *rig) session(t *testing.T, fps int, metrics *Metrics) *Session {
	return NewSession(testLogger(t), SessionConfig{
		FPS:        fps,
		OutputPath: "out.mp4",
		SessionID:  "test-session",
		Clock:      r.clock,
		Metrics:    metrics,
	}, r.backends())
}
