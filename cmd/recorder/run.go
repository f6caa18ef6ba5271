package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/ssk-wh/ffmpeg-demo/internal/amqp"
	"github.com/ssk-wh/ffmpeg-demo/internal/api"
	"github.com/ssk-wh/ffmpeg-demo/internal/config"
	"github.com/ssk-wh/ffmpeg-demo/internal/ffmpeg"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/zap"
)

// parseSeconds accepts a non-negative decimal integer that fits in 32 bits.
func parseSeconds(arg string) (uint32, error) {
	if arg == "" {
		return 0, fmt.Errorf("invalid duration %q: expected a number of seconds", arg)
	}
	for _, r := range arg {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid duration %q: expected a number of seconds", arg)
		}
	}
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", arg, err)
	}
	return uint32(n), nil
}

// notifyContext is signal.NotifyContext that lets go of the signals once the
// first one has cancelled ctx, so a second interrupt terminates a session
// stuck in a backend call.
func notifyContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, sigs...)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

func runRecorder(cmd *cobra.Command, args []string) error {
	seconds, err := parseSeconds(args[0])
	if err != nil {
		return err
	}
	if err := cfg.ValidateRecorderConfig(); err != nil {
		return fmt.Errorf("invalid recorder config: %w", err)
	}
	// Past argument and config validation, failures are runtime errors.
	cmd.SilenceUsage = true

	ctx, stop := notifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.Must(uuid.NewV4()).String()
	log := logger.With(zap.String("session_id", sessionID))

	reg := prometheus.NewRegistry()
	metrics := recorder.NewMetrics("", reg)

	if addr := cfg.Recorder.MetricsAddress; addr != "" {
		srv := api.NewServer(log, reg, sessionID)
		go func() {
			if err := srv.StartWithContext(ctx, addr); err != nil {
				log.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Recorder.Backend == backendFFmpeg {
		ffmpeg.BridgeLogs(log)
		defer ffmpeg.ResetLogs()
	}

	duration := time.Duration(seconds) * time.Second
	log.Info("Starting recording",
		zap.Duration("duration", duration),
		zap.Int("fps", cfg.Recorder.FPS),
		zap.String("output_path", cfg.Recorder.Output),
		zap.String("backend", cfg.Recorder.Backend),
		zap.String("source", cfg.Recorder.Source))

	session := recorder.NewSession(log, recorder.SessionConfig{
		FPS:        cfg.Recorder.FPS,
		OutputPath: cfg.Recorder.Output,
		Encoder:    encoderConfig(log, cfg.Recorder),
		SessionID:  sessionID,
		Metrics:    metrics,
	}, newBackends(log, cfg.Recorder))

	result, runErr := session.Run(ctx, duration)

	summary := result.Summary(sessionID, cfg.Recorder.Output, duration, cfg.Recorder.FPS)
	if cfg.Recorder.Summary {
		writeSummary(log, summary, cfg.Recorder.Output)
	}
	if cfg.Recorder.AMQPURI != "" {
		publishEvent(log, summary, cfg.Recorder)
	}

	if runErr != nil {
		return fmt.Errorf("recording failed: %w", runErr)
	}

	log.Info("Recording completed",
		zap.Int64("frames", result.Frames),
		zap.Int("packets", result.Packets),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("elapsed", result.Elapsed),
		zap.Bool("interrupted", ctx.Err() != nil))
	return nil
}

func writeSummary(log *zap.Logger, summary recorder.SessionSummary, output string) {
	path := recorder.SummaryPath(output)
	if err := recorder.WriteSummary(path, summary); err != nil {
		log.Warn("Failed to write session summary", zap.String("path", path), zap.Error(err))
		return
	}
	log.Debug("Wrote session summary", zap.String("path", path))
}

// publishEvent runs after the recording context may have been cancelled, so
// it uses its own deadline.
func publishEvent(log *zap.Logger, summary recorder.SessionSummary, rc config.RecorderConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*amqp.DefaultPublishTimeout)
	defer cancel()

	pub := amqp.NewPublisher(log, amqp.Config{URI: rc.AMQPURI, QueueName: rc.AMQPQueue})
	defer pub.Close()

	if err := pub.Connect(ctx); err != nil {
		log.Warn("Failed to connect to RabbitMQ", zap.Error(err))
		return
	}
	if err := pub.Publish(ctx, amqp.NewRecordingEvent(summary)); err != nil {
		log.Warn("Failed to publish recording event", zap.Error(err))
	}
}
