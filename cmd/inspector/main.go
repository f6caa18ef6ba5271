package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/ssk-wh/ffmpeg-demo/internal/config"
	"github.com/ssk-wh/ffmpeg-demo/internal/ffmpeg"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "inspector <file>",
		Short:   "Print the video codec of a media file",
		Version: version,
		Long: `inspector opens a media file, prints the codec of its first video stream
and checks that a decoder for it is available. It exits non-zero when the
file cannot be opened, has no video stream or cannot be decoded.`,
		Example: `  inspector output.mp4`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg := config.DefaultConfig()
			cfg.Debug = debug
			cfg.LogLevel = "warn"
			logger, err := cfg.NewLogger()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()

			ffmpeg.BridgeLogs(logger)
			defer ffmpeg.ResetLogs()

			return inspect(logger, cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "log libav diagnostics")
	return cmd
}

// inspect prints the codec line before checking the decoder, so a file with
// an undecodable stream still reports what it contains.
func inspect(logger *zap.Logger, w io.Writer, path string) error {
	p, err := ffmpeg.OpenProbe(path)
	if err != nil {
		return err
	}
	defer p.Close()

	vs, err := p.VideoStream()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "Video codec: %s\n", vs.CodecName())
	logger.Debug("Found video stream",
		zap.String("path", path),
		zap.Int("stream_index", vs.Index),
		zap.Int("width", vs.Width),
		zap.Int("height", vs.Height))

	if err := p.CheckDecoder(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
