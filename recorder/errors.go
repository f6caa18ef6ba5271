package recorder

import (
	"errors"
	"fmt"
)

var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrDisplayUnavailable = fmt.Errorf("display %w", ErrBackendUnavailable)
	ErrEncoderUnavailable = fmt.Errorf("encoder %w", ErrBackendUnavailable)

	ErrConfigurationRejected       = errors.New("configuration rejected")
	ErrConverterReinitNotSupported = errors.New("converter reinitialization not supported")
	ErrCaptureFailed               = errors.New("capture failed")
	ErrConversionFailed            = errors.New("conversion failed")
	ErrEncodeRejected              = errors.New("encode rejected")
	ErrWriteFailed                 = errors.New("write failed")
	ErrOutputOpenFailed            = errors.New("output open failed")
	ErrHeaderWriteFailed           = errors.New("header write failed")
	ErrWriteOrder                  = errors.New("container write out of order")
	errSessionAlreadyRun           = errors.New("session already run")
)

// Stage names the step of the pipeline an error came from.
type Stage string

const (
	StageOpenSource  Stage = "open_source"
	StageOpenEncoder Stage = "open_encoder"
	StageOpenWriter  Stage = "open_writer"
	StageHeader      Stage = "write_header"
	StageAllocate    Stage = "allocate_frame"
	StageCapture     Stage = "capture"
	StageConvert     Stage = "convert"
	StageEncode      Stage = "encode"
	StageWrite       Stage = "write_packet"
	StageFlush       Stage = "flush"
	StageTrailer     Stage = "write_trailer"
	StageRelease     Stage = "release"
)

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// wrapKind makes sure err matches kind with errors.Is without hiding the
// backend's own message.
func wrapKind(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
