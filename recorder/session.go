package recorder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the lifecycle state of a recording session.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateFlushing
	StateFinalized
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateFlushing:
		return "flushing"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SessionConfig replaces the process-wide constants of a recorder.
type SessionConfig struct {
	FPS        int
	OutputPath string
	// Encoder parameters. Layout, dimensions, time base and frame rate are
	// derived from the source region and FPS when left zero.
	Encoder EncoderConfig

	SessionID string
	Clock     Clock
	Metrics   *Metrics
}

// Result is the final state of a session.
type Result struct {
	SessionID    string
	State        State
	StartedAt    time.Time
	Elapsed      time.Duration
	Frames       int64
	Packets      int
	Bytes        int64
	Overruns     int
	Region       Region
	SourceLayout PixelLayout
	Err          error
}

// Session owns every component of one recording and runs the per-frame cycle
// on the calling goroutine.
type Session struct {
	cfg      SessionConfig
	backends Backends
	logger   *zap.Logger
	clock    Clock
	pacer    *Pacer
	metrics  *Metrics

	state   State
	history []State
	ran     bool

	source    ScreenSource
	encoder   Encoder
	writer    *OrderedWriter
	converter *LazyConverter
	frame     *Frame

	encoderTimeBase Rational
	streamTimeBase  Rational
	streamIndex     int

	startedAt    time.Time
	frames       int64
	region       Region
	sourceLayout PixelLayout
	flushed      bool
}

func NewSession(logger *zap.Logger, cfg SessionConfig, backends Backends) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics("", nil)
	}
	return &Session{
		cfg:      cfg,
		backends: backends,
		logger:   logger.With(zap.String("component", "session"), zap.String("session_id", cfg.SessionID)),
		clock:    clock,
		pacer:    NewPacer(clock),
		metrics:  metrics,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// History returns every state the session has been in, in order.
func (s *Session) History() []State {
	out := make([]State, len(s.history))
	copy(out, s.history)
	return out
}

// Converter exposes the lazily built converter, mostly for inspection.
func (s *Session) Converter() *LazyConverter {
	return s.converter
}

func (s *Session) setState(state State) {
	s.state = state
	s.history = append(s.history, state)
	s.metrics.SessionState.Set(float64(state))
	s.logger.Debug("Session state changed", zap.Stringer("state", state))
}

// Run records for duration, or until ctx is cancelled, whichever comes first.
// Cancellation is only observed between frames. The returned error is nil
// only when the session reached StateFinalized cleanly.
func (s *Session) Run(ctx context.Context, duration time.Duration) (Result, error) {
	if s.ran {
		return Result{SessionID: s.cfg.SessionID, State: s.state}, errSessionAlreadyRun
	}
	s.ran = true
	if s.cfg.FPS <= 0 {
		return Result{SessionID: s.cfg.SessionID}, fmt.Errorf("fps must be greater than 0, got %d", s.cfg.FPS)
	}

	td := newTeardown(s.logger)
	s.setState(StateInitializing)
	if err := s.initialize(td); err != nil {
		return s.abort(td, err)
	}

	s.setState(StateRunning)
	if err := s.record(ctx, duration); err != nil {
		return s.abort(td, err)
	}

	s.setState(StateFlushing)
	if err := s.flush(); err != nil {
		return s.abort(td, err)
	}
	if err := s.writer.WriteTrailer(); err != nil {
		return s.abort(td, stageError(StageTrailer, err))
	}

	releaseErr := td.release()
	s.setState(StateFinalized)
	result := s.result(nil)
	s.logger.Info("Recording finalized",
		zap.String("output_path", s.cfg.OutputPath),
		zap.Int64("frames", result.Frames),
		zap.Int("packets", result.Packets),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("elapsed", result.Elapsed),
		zap.Int("cycle_overruns", result.Overruns))
	if releaseErr != nil {
		releaseErr = stageError(StageRelease, releaseErr)
		result.Err = releaseErr
	}
	return result, releaseErr
}

func (s *Session) encoderConfig() EncoderConfig {
	cfg := s.cfg.Encoder
	if cfg.Layout == LayoutUnknown {
		cfg.Layout = LayoutI420
	}
	aligned := s.region.Align(s.backends.SizeAlignment)
	if cfg.Width <= 0 {
		cfg.Width = aligned.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = aligned.Height
	}
	if !cfg.TimeBase.Valid() {
		cfg.TimeBase = NewRational(1, s.cfg.FPS)
	}
	if !cfg.FrameRate.Valid() {
		cfg.FrameRate = NewRational(s.cfg.FPS, 1)
	}
	if cfg.OnRejected == nil {
		cfg.OnRejected = func(option, value string, err error) {
			s.logger.Warn("Encoder rejected option, continuing with defaults",
				zap.String("option", option),
				zap.String("value", value),
				zap.Error(err))
		}
	}
	return cfg
}

// initialize opens source, encoder and writer in that order, writes the
// container header and allocates the reusable frame. Every acquisition
// registers its release on td.
func (s *Session) initialize(td *teardown) error {
	src, err := s.backends.OpenSource()
	if err != nil {
		return stageError(StageOpenSource, wrapKind(ErrDisplayUnavailable, err))
	}
	s.source = src
	td.push("screen_source", src.Close)
	s.region = src.Region()
	if s.region.Empty() {
		return stageError(StageOpenSource, fmt.Errorf("%w: empty display region %s", ErrDisplayUnavailable, s.region))
	}
	s.logger.Info("Opened screen source", zap.Stringer("region", s.region))

	encCfg := s.encoderConfig()
	enc, err := s.backends.OpenEncoder(encCfg)
	if err != nil {
		return stageError(StageOpenEncoder, wrapKind(ErrEncoderUnavailable, err))
	}
	s.encoder = enc
	td.push("encoder", enc.Close)
	s.encoderTimeBase = enc.TimeBase()
	s.logger.Info("Opened encoder",
		zap.String("codec", encCfg.Codec),
		zap.Int("width", encCfg.Width),
		zap.Int("height", encCfg.Height),
		zap.Stringer("time_base", s.encoderTimeBase),
		zap.Int("gop_size", encCfg.GOPSize),
		zap.Int("max_b_frames", encCfg.MaxBFrames),
		zap.Int64("bit_rate", encCfg.BitRate))

	w, err := s.backends.OpenWriter(s.cfg.OutputPath, enc.Stream())
	if err != nil {
		return stageError(StageOpenWriter, wrapKind(ErrOutputOpenFailed, err))
	}
	s.writer = NewOrderedWriter(w)
	td.push("writer", s.writer.Close)

	if err := s.writer.WriteHeader(); err != nil {
		return stageError(StageHeader, err)
	}
	s.streamTimeBase = s.writer.StreamTimeBase()
	s.streamIndex = s.writer.StreamIndex()
	s.logger.Info("Wrote container header",
		zap.String("output_path", s.cfg.OutputPath),
		zap.Stringer("stream_time_base", s.streamTimeBase),
		zap.Int("stream_index", s.streamIndex))

	frame, err := NewFrame(encCfg.Layout, Region{Width: encCfg.Width, Height: encCfg.Height})
	if err != nil {
		return stageError(StageAllocate, err)
	}
	s.frame = frame
	td.push("frame", func() error {
		s.frame = nil
		return nil
	})

	s.converter = NewLazyConverter(s.backends.NewConverter)
	td.push("converter", s.converter.Close)
	return nil
}

func (s *Session) record(ctx context.Context, duration time.Duration) error {
	period := FramePeriod(s.cfg.FPS)
	s.startedAt = s.clock.Now()
	s.logger.Info("Recording started",
		zap.Duration("duration", duration),
		zap.Int("fps", s.cfg.FPS),
		zap.Duration("frame_period", period))

	enableDebugLogging := s.logger.Core().Enabled(zap.DebugLevel)
	for {
		cycleStart := s.pacer.BeginCycle()
		if err := s.step(); err != nil {
			return err
		}
		if enableDebugLogging {
			s.logger.Debug("Frame recorded",
				zap.Int64("frame", s.frames-1),
				zap.Duration("work", s.pacer.Elapsed(cycleStart)))
		}

		overruns := s.pacer.Overruns()
		s.pacer.EndCycle(cycleStart, period)
		if s.pacer.Overruns() > overruns {
			s.metrics.CycleOverruns.Inc()
		}

		if s.pacer.ShouldTerminate(s.startedAt, duration) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			s.logger.Info("Stop requested, finishing recording", zap.Error(err))
			return nil
		}
	}
}

// step runs one capture, convert, encode and write cycle.
func (s *Session) step() error {
	t0 := s.clock.Now()
	raw, err := s.source.Capture()
	if err != nil {
		return stageError(StageCapture, wrapKind(ErrCaptureFailed, err))
	}
	t1 := s.clock.Now()
	s.metrics.observeStage(StageCapture, t0, t1)
	s.metrics.FramesCaptured.Inc()

	err = s.convert(raw)
	raw.Release()
	if err != nil {
		return stageError(StageConvert, err)
	}
	t2 := s.clock.Now()
	s.metrics.observeStage(StageConvert, t1, t2)

	s.frame.PTS = s.frames
	if err := s.encoder.Submit(s.frame); err != nil {
		return stageError(StageEncode, wrapKind(ErrEncodeRejected, err))
	}
	s.frames++
	s.metrics.FramesEncoded.Inc()

	if err := s.drain(StageWrite); err != nil {
		return err
	}
	s.metrics.observeStage(StageEncode, t2, s.clock.Now())
	return nil
}

func (s *Session) convert(raw *RawFrame) error {
	if err := raw.Validate(); err != nil {
		return wrapKind(ErrConversionFailed, err)
	}
	first := !s.converter.Initialized()
	if err := s.converter.EnsureInitialized(raw.Layout, raw.Region, s.frame.Layout, s.frame.Region); err != nil {
		return err
	}
	if first {
		s.sourceLayout = raw.Layout
		s.logger.Info("Initialized pixel converter",
			zap.Stringer("source_layout", raw.Layout),
			zap.Stringer("source_region", raw.Region),
			zap.Int("source_stride", raw.Stride),
			zap.Stringer("target_layout", s.frame.Layout),
			zap.Stringer("target_region", s.frame.Region))
	}
	return s.converter.Convert(raw, s.frame)
}

// drain writes every packet the encoder has ready, rescaled to the stream's
// time base.
func (s *Session) drain(stage Stage) error {
	for pkt, err := range s.encoder.Drain() {
		if err != nil {
			return stageError(stage, wrapKind(ErrEncodeRejected, err))
		}
		pkt.Rescale(s.encoderTimeBase, s.streamTimeBase)
		pkt.StreamIndex = s.streamIndex
		if err := s.writer.WritePacket(pkt); err != nil {
			return stageError(stage, err)
		}
		s.metrics.PacketsWritten.Inc()
		s.metrics.BytesWritten.Add(float64(len(pkt.Data)))
	}
	return nil
}

// flush signals end of input and writes whatever the encoder still buffers.
// It runs at most once per session.
func (s *Session) flush() error {
	if s.flushed {
		return nil
	}
	s.flushed = true
	if err := s.encoder.Submit(nil); err != nil {
		return stageError(StageFlush, wrapKind(ErrEncodeRejected, err))
	}
	return s.drain(StageFlush)
}

// abort salvages what it can and releases everything acquired so far. When
// the header made it to disk, buffered packets are flushed and the trailer is
// written so the truncated file stays playable.
func (s *Session) abort(td *teardown, cause error) (Result, error) {
	stage, _ := FailedStage(cause)
	s.metrics.Failures.WithLabelValues(string(stage)).Inc()
	s.logger.Error("Recording aborted",
		zap.String("stage", string(stage)),
		zap.Int64("frames", s.frames),
		zap.Error(cause))

	if s.writer != nil && s.writer.TrailerPending() {
		if s.encoder != nil {
			if err := s.flush(); err != nil {
				s.logger.Warn("Failed to flush encoder after abort", zap.Error(err))
			}
		}
		if err := s.writer.WriteTrailer(); err != nil {
			s.logger.Warn("Failed to write trailer after abort", zap.Error(err))
		} else {
			s.logger.Info("Wrote trailer for truncated recording",
				zap.String("output_path", s.cfg.OutputPath),
				zap.Int("packets", s.writer.Packets()))
		}
	}

	err := cause
	if releaseErr := td.release(); releaseErr != nil {
		err = multierr.Append(err, stageError(StageRelease, releaseErr))
	}
	s.setState(StateAborted)
	return s.result(err), err
}

func (s *Session) result(err error) Result {
	r := Result{
		SessionID:    s.cfg.SessionID,
		State:        s.state,
		StartedAt:    s.startedAt,
		Frames:       s.frames,
		Overruns:     s.pacer.Overruns(),
		Region:       s.region,
		SourceLayout: s.sourceLayout,
		Err:          err,
	}
	if !s.startedAt.IsZero() {
		r.Elapsed = s.clock.Now().Sub(s.startedAt)
	}
	if s.writer != nil {
		r.Packets = s.writer.Packets()
		r.Bytes = s.writer.Bytes()
	}
	return r
}
