package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "SCREENREC"

// Config holds all configuration for the application
type Config struct {
	// Global configuration
	Debug      bool   `yaml:"debug" mapstructure:"debug"`
	LogLevel   string `yaml:"log_level" mapstructure:"log_level"`
	LogFile    string `yaml:"log_file" mapstructure:"log_file"`
	ConfigFile string `yaml:"config" mapstructure:"config"`

	// Recorder configuration
	Recorder RecorderConfig `yaml:"recorder" mapstructure:"recorder"`
}

// RecorderConfig holds configuration for the recorder command
type RecorderConfig struct {
	FPS    int    `yaml:"fps" mapstructure:"fps"`
	Output string `yaml:"output" mapstructure:"output"`

	// Backend selects the encoder and container: "ffmpeg" (H.264 in the
	// container named by Output, MP4 by default) or "mjpeg" (Motion-JPEG AVI).
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Source is "x11" or "screenshot".
	Source  string `yaml:"source" mapstructure:"source"`
	Display string `yaml:"display" mapstructure:"display"`
	// Converter is "native" or "swscale".
	Converter string `yaml:"converter" mapstructure:"converter"`

	Encoder EncoderConfig `yaml:"encoder" mapstructure:"encoder"`

	// MetricsAddress enables a Prometheus /metrics endpoint when set.
	MetricsAddress string `yaml:"metrics_address" mapstructure:"metrics_address"`
	// Summary writes <output>.json next to the recording.
	Summary bool `yaml:"summary" mapstructure:"summary"`

	// AMQPURI publishes a recording event when the session ends.
	AMQPURI   string `yaml:"amqp_uri" mapstructure:"amqp_uri"`
	AMQPQueue string `yaml:"amqp_queue" mapstructure:"amqp_queue"`
}

// EncoderConfig holds the codec parameters
type EncoderConfig struct {
	Codec      string `yaml:"codec" mapstructure:"codec"`
	GOPSize    int    `yaml:"gop_size" mapstructure:"gop_size"`
	MaxBFrames int    `yaml:"max_b_frames" mapstructure:"max_b_frames"`
	BitRate    int64  `yaml:"bit_rate" mapstructure:"bit_rate"`
	QMin       int    `yaml:"qmin" mapstructure:"qmin"`
	QMax       int    `yaml:"qmax" mapstructure:"qmax"`
	Preset     string `yaml:"preset" mapstructure:"preset"`
	Tune       string `yaml:"tune" mapstructure:"tune"`
	Quality    int    `yaml:"quality" mapstructure:"quality"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		LogFile:  "",
		Recorder: RecorderConfig{
			FPS:       15,
			Output:    "output.mp4",
			Backend:   "ffmpeg",
			Source:    "x11",
			Converter: "native",
			Encoder: EncoderConfig{
				Codec:      "libx264",
				GOPSize:    10,
				MaxBFrames: 2,
				BitRate:    4000000,
				QMin:       10,
				QMax:       51,
				Preset:     "fast",
				Tune:       "zerolatency",
				Quality:    75,
			},
		},
	}
}

// setDefaults registers every key so that environment variables are picked
// up by Unmarshal even when no config file mentions them.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("debug", c.Debug)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_file", c.LogFile)

	r := c.Recorder
	v.SetDefault("recorder.fps", r.FPS)
	v.SetDefault("recorder.output", r.Output)
	v.SetDefault("recorder.backend", r.Backend)
	v.SetDefault("recorder.source", r.Source)
	v.SetDefault("recorder.display", r.Display)
	v.SetDefault("recorder.converter", r.Converter)
	v.SetDefault("recorder.metrics_address", r.MetricsAddress)
	v.SetDefault("recorder.summary", r.Summary)
	v.SetDefault("recorder.amqp_uri", r.AMQPURI)
	v.SetDefault("recorder.amqp_queue", r.AMQPQueue)

	e := r.Encoder
	v.SetDefault("recorder.encoder.codec", e.Codec)
	v.SetDefault("recorder.encoder.gop_size", e.GOPSize)
	v.SetDefault("recorder.encoder.max_b_frames", e.MaxBFrames)
	v.SetDefault("recorder.encoder.bit_rate", e.BitRate)
	v.SetDefault("recorder.encoder.qmin", e.QMin)
	v.SetDefault("recorder.encoder.qmax", e.QMax)
	v.SetDefault("recorder.encoder.preset", e.Preset)
	v.SetDefault("recorder.encoder.tune", e.Tune)
	v.SetDefault("recorder.encoder.quality", e.Quality)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configFile string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := DefaultConfig()

	// Use a local viper instance to avoid conflicts with flag bindings
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, config)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
		config.ConfigFile = configFile
	}

	// SCREENREC_RECORDER_FPS=30 overrides recorder.fps
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

// NewLogger creates a zap logger based on the configuration
func (c *Config) NewLogger() (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}
	if c.Debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level.SetLevel(level)

	// Include caller info in log messages (relative path and line number)
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if c.LogFile != "" {
		// Log to file and console
		cfg.OutputPaths = []string{c.LogFile, "stdout"}
		cfg.ErrorOutputPaths = []string{c.LogFile, "stderr"}
	} else {
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("error creating logger: %w", err)
	}

	return logger, nil
}

// ValidateRecorderConfig validates recorder configuration
func (c *Config) ValidateRecorderConfig() error {
	r := c.Recorder
	if r.FPS <= 0 {
		return fmt.Errorf("fps must be greater than 0")
	}
	if r.Output == "" {
		return fmt.Errorf("output file must be specified")
	}
	if dir := filepath.Dir(r.Output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	switch r.Backend {
	case "ffmpeg", "mjpeg":
	default:
		return fmt.Errorf("unknown backend %q (ffmpeg, mjpeg)", r.Backend)
	}
	switch r.Source {
	case "x11", "screenshot":
	default:
		return fmt.Errorf("unknown source %q (x11, screenshot)", r.Source)
	}
	switch r.Converter {
	case "native", "swscale":
	default:
		return fmt.Errorf("unknown converter %q (native, swscale)", r.Converter)
	}
	if r.Backend == "mjpeg" && (r.Encoder.Quality < 1 || r.Encoder.Quality > 100) {
		return fmt.Errorf("jpeg quality must be between 1 and 100")
	}
	if r.Encoder.MaxBFrames < 0 {
		return fmt.Errorf("max b-frames must not be negative")
	}
	if r.Encoder.QMin > 0 && r.Encoder.QMax > 0 && r.Encoder.QMin > r.Encoder.QMax {
		return fmt.Errorf("qmin %d is greater than qmax %d", r.Encoder.QMin, r.Encoder.QMax)
	}
	return nil
}
