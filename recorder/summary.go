package recorder

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionSummary is the sidecar written next to a recording.
type SessionSummary struct {
	SessionID  string  `json:"session_id"`
	OutputPath string  `json:"output_path"`
	StartedAt  string  `json:"started_at"`
	Requested  float64 `json:"requested_seconds"`
	Elapsed    float64 `json:"elapsed_seconds"`
	FPS        int     `json:"fps"`
	Region     string  `json:"region,omitempty"`
	Layout     string  `json:"source_layout,omitempty"`
	Frames     int64   `json:"frames"`
	Packets    int     `json:"packets"`
	Bytes      int64   `json:"bytes"`
	Overruns   int     `json:"cycle_overruns"`
	State      string  `json:"state"`
	Error      string  `json:"error,omitempty"`
	FailedAt   string  `json:"failed_stage,omitempty"`
}

// Summary builds the sidecar contents for a finished session.
func (r Result) Summary(sessionID, outputPath string, requested time.Duration, fps int) SessionSummary {
	s := SessionSummary{
		SessionID:  sessionID,
		OutputPath: outputPath,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
		Requested:  requested.Seconds(),
		Elapsed:    r.Elapsed.Seconds(),
		FPS:        fps,
		Frames:     r.Frames,
		Packets:    r.Packets,
		Bytes:      r.Bytes,
		Overruns:   r.Overruns,
		State:      r.State.String(),
	}
	if !r.Region.Empty() {
		s.Region = r.Region.String()
	}
	if r.SourceLayout != LayoutUnknown {
		s.Layout = r.SourceLayout.String()
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
		if stage, ok := FailedStage(r.Err); ok {
			s.FailedAt = string(stage)
		}
	}
	return s
}

// SummaryPath is where the sidecar for outputPath goes.
func SummaryPath(outputPath string) string {
	return outputPath + ".json"
}

// WriteSummary writes the sidecar as indented JSON.
func WriteSummary(path string, s SessionSummary) error {
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session summary: %w", err)
	}
	if err := os.WriteFile(path, append(buf, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write session summary: %w", err)
	}
	return nil
}

// ReadSummary loads a sidecar written by WriteSummary.
func ReadSummary(path string) (SessionSummary, error) {
	var s SessionSummary
	buf, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(buf, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal session summary: %v", err)
	}
	return s, nil
}
