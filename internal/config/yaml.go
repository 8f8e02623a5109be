// SPDX-License-Identifier: MIT
package config

import (
	"audioviz/internal/analysis"
	applog "audioviz/internal/log"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Shorthand for log_level: debug.
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Audio input settings.
	Analysis  AnalysisConfig  `yaml:"analysis"`  // Feature extraction tuning.
	Driver    DriverConfig    `yaml:"driver"`    // Tick scheduling.
	Recording RecordingConfig `yaml:"recording"` // Audio recording settings.
	Transport TransportConfig `yaml:"transport"` // Snapshot fan-out.
}

// AudioConfig holds settings related to audio input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	SampleRate      int     `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Channels to capture, mixed down to mono.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Peak level in [0,1] below which buffers are silenced (0 disables).
}

// AnalysisConfig holds the spectrum analyser and engine tuning.
type AnalysisConfig struct {
	FFTSize           int     `yaml:"fft_size"`           // Frame length, a power of 2.
	Window            string  `yaml:"window"`             // Window function name (e.g., "blackman", "hann").
	MinDecibels       float64 `yaml:"min_decibels"`       // Level mapped to 0.
	MaxDecibels       float64 `yaml:"max_decibels"`       // Level mapped to 1.
	SpectrumSmoothing float64 `yaml:"spectrum_smoothing"` // Analyser time constant in [0,1).
	Sensitivity       float64 `yaml:"sensitivity"`        // Initial input gain.
	VolumeSmoothing   float64 `yaml:"volume_smoothing"`
	PitchSmoothing    float64 `yaml:"pitch_smoothing"`
	BeatThreshold     float64 `yaml:"beat_threshold"`  // Ratio over the previous bass envelope.
	BeatMinVolume     float64 `yaml:"beat_min_volume"` // Raw bass floor for a beat.
	PeakDecay         float64 `yaml:"peak_decay"`

	Bass   analysis.BandConfig `yaml:"bass"`
	Mid    analysis.BandConfig `yaml:"mid"`
	Treble analysis.BandConfig `yaml:"treble"`
}

// DriverConfig holds settings for the tick loop.
type DriverConfig struct {
	TickRate float64 `yaml:"tick_rate"` // Analysis steps per second.
}

// Interval returns the tick period.
func (d DriverConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / d.TickRate)
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Enable audio recording to file.
	OutputDir   string `yaml:"output_dir"`           // Directory to save recorded audio files.
	Format      string `yaml:"format"`               // File format for recordings (only "wav").
	BitDepth    int    `yaml:"bit_depth"`            // Bit depth for recorded audio (16, 24 or 32).
	MaxDuration int    `yaml:"max_duration_seconds"` // Maximum duration of a single recording file in seconds (0 for unlimited).
}

// TransportConfig holds settings related to sending snapshots to consumers.
type TransportConfig struct {
	WebSocketEnabled bool   `yaml:"websocket_enabled"` // Broadcast JSON snapshots to browser renderers.
	WebSocketAddress string `yaml:"websocket_address"` // Listen address (e.g., "127.0.0.1:8080").
	WebSocketPath    string `yaml:"websocket_path"`    // Upgrade endpoint path.

	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending snapshot packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.

	LogSnapshots bool `yaml:"log_snapshots"` // Write every snapshot to the debug log.
}

// Default returns the built-in configuration.
func Default() Config {
	engine := analysis.DefaultConfig()
	return Config{
		Debug:    false,
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultChannels,
			GateThreshold:   DefaultGateThreshold,
		},
		Analysis: AnalysisConfig{
			FFTSize:           engine.FFTSize,
			Window:            DefaultWindow,
			MinDecibels:       analysis.DefaultMinDecibels,
			MaxDecibels:       analysis.DefaultMaxDecibels,
			SpectrumSmoothing: analysis.DefaultSmoothingTimeConstant,
			Sensitivity:       DefaultSensitivity,
			VolumeSmoothing:   engine.VolumeSmoothing,
			PitchSmoothing:    engine.PitchSmoothing,
			BeatThreshold:     engine.BeatThreshold,
			BeatMinVolume:     engine.BeatMinVolume,
			PeakDecay:         engine.PeakDecay,
			Bass:              engine.Bass,
			Mid:               engine.Mid,
			Treble:            engine.Treble,
		},
		Driver: DriverConfig{
			TickRate: DefaultTickRate,
		},
		Recording: RecordingConfig{
			Enabled:     false,
			OutputDir:   DefaultOutputDir,
			Format:      DefaultFormat,
			BitDepth:    DefaultBitDepth,
			MaxDuration: 0, // 0 for unlimited.
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddress: DefaultWebSocketAddress,
			WebSocketPath:    DefaultWebSocketPath,
			UDPEnabled:       false,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile("config.yaml")
		if path == "" {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return &cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applog.Debugf("configuration: loaded %s", path)

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func findConfigFile(candidates ...string) string {
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Level returns the effective log level. Debug wins over log_level.
func (c *Config) Level() applog.LogLevel {
	if c.Debug {
		return applog.LevelDebug
	}
	level, _ := applog.ParseLevel(c.LogLevel)
	return level
}

// Validate checks every section and returns the first problem found,
// wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		return fmt.Errorf("%w: unknown log_level '%s'", ErrInvalidConfig, c.LogLevel)
	}

	// Audio Validation
	a := c.Audio
	if a.InputDevice < MinDeviceID {
		return fmt.Errorf("%w: audio.input_device must be >= %d, got %d", ErrInvalidConfig, MinDeviceID, a.InputDevice)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: audio.sample_rate must be within [%d, %d], got %d", ErrInvalidConfig, MinSampleRate, MaxSampleRate, a.SampleRate)
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("%w: audio.frames_per_buffer must be within [1, %d], got %d", ErrInvalidConfig, MaxBufferFrames, a.FramesPerBuffer)
	}
	if a.InputChannels < 1 {
		return fmt.Errorf("%w: audio.input_channels must be positive, got %d", ErrInvalidConfig, a.InputChannels)
	}
	if a.GateThreshold < 0 || a.GateThreshold > 1 {
		return fmt.Errorf("%w: audio.gate_threshold must be within [0, 1], got %g", ErrInvalidConfig, a.GateThreshold)
	}

	// Analysis Validation
	if _, err := analysis.ParseWindowFunc(c.Analysis.Window); err != nil {
		return fmt.Errorf("%w: analysis.window: %w", ErrInvalidConfig, err)
	}
	if c.Analysis.Sensitivity < 0 {
		return fmt.Errorf("%w: analysis.sensitivity must be >= 0, got %g", ErrInvalidConfig, c.Analysis.Sensitivity)
	}
	engine := c.EngineConfig()
	if err := engine.Validate(a.SampleRate); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := engine.SpectrumConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// Driver Validation
	if !(c.Driver.TickRate > 0 && c.Driver.TickRate <= MaxTickRate) {
		return fmt.Errorf("%w: driver.tick_rate must be within (0, %g], got %g", ErrInvalidConfig, MaxTickRate, c.Driver.TickRate)
	}

	// Recording Validation
	if c.Recording.Enabled {
		if c.Recording.Format != DefaultFormat {
			return fmt.Errorf("%w: recording.format '%s' is not supported, only '%s'", ErrInvalidConfig, c.Recording.Format, DefaultFormat)
		}
		switch c.Recording.BitDepth {
		case 16, 24, 32:
		default:
			return fmt.Errorf("%w: recording.bit_depth must be 16, 24 or 32, got %d", ErrInvalidConfig, c.Recording.BitDepth)
		}
		if c.Recording.MaxDuration < 0 {
			return fmt.Errorf("%w: recording.max_duration_seconds must be >= 0", ErrInvalidConfig)
		}
	}

	// Transport Validation
	t := c.Transport
	if t.WebSocketEnabled {
		if _, _, err := net.SplitHostPort(t.WebSocketAddress); err != nil {
			return fmt.Errorf("%w: transport.websocket_address '%s': %w", ErrInvalidConfig, t.WebSocketAddress, err)
		}
		if len(t.WebSocketPath) == 0 || t.WebSocketPath[0] != '/' {
			return fmt.Errorf("%w: transport.websocket_path must start with '/', got '%s'", ErrInvalidConfig, t.WebSocketPath)
		}
	}
	if t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			return fmt.Errorf("%w: transport.udp_target_address '%s' appears invalid: %w", ErrInvalidConfig, t.UDPTargetAddress, err)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must be positive when UDP is enabled", ErrInvalidConfig)
		}
	}

	return nil
}

// EngineConfig maps the analysis section onto the immutable engine
// configuration. Call Validate first; an unknown window name falls back
// to Blackman here.
func (c *Config) EngineConfig() analysis.Config {
	a := c.Analysis
	window, _ := analysis.ParseWindowFunc(a.Window)

	engine := analysis.DefaultConfig()
	engine.FFTSize = a.FFTSize
	engine.Bass = a.Bass
	engine.Mid = a.Mid
	engine.Treble = a.Treble
	engine.VolumeSmoothing = a.VolumeSmoothing
	engine.PitchSmoothing = a.PitchSmoothing
	engine.BeatThreshold = a.BeatThreshold
	engine.BeatMinVolume = a.BeatMinVolume
	engine.PeakDecay = a.PeakDecay
	engine.Spectrum = analysis.SpectrumConfig{
		FFTSize:               a.FFTSize,
		Window:                window,
		MinDecibels:           a.MinDecibels,
		MaxDecibels:           a.MaxDecibels,
		SmoothingTimeConstant: a.SpectrumSmoothing,
	}
	return engine
}

// applyEnvOverrides lets ENV_* variables override file values. Values
// that fail to parse are ignored with a warning.
func (cfg *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.

	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("configuration: Overriding debug from env: %v", bVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_DEBUG=%q: %v", val, err)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_AUDIO_{...}
	// These are specific to the input device.

	// ENV_AUDIO_INPUT_DEVICE
	if val, ok := os.LookupEnv("ENV_AUDIO_INPUT_DEVICE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Audio.InputDevice = iVal
			applog.Infof("configuration: Overriding audio.input_device from env: %d", iVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_AUDIO_INPUT_DEVICE=%q: %v", val, err)
		}
	}
	// ENV_AUDIO_SAMPLE_RATE
	if val, ok := os.LookupEnv("ENV_AUDIO_SAMPLE_RATE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Audio.SampleRate = iVal
			applog.Infof("configuration: Overriding audio.sample_rate from env: %d", iVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_AUDIO_SAMPLE_RATE=%q: %v", val, err)
		}
	}

	// ENV_ANALYSIS_SENSITIVITY
	if val, ok := os.LookupEnv("ENV_ANALYSIS_SENSITIVITY"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Analysis.Sensitivity = fVal
			applog.Infof("configuration: Overriding analysis.sensitivity from env: %g", fVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_ANALYSIS_SENSITIVITY=%q: %v", val, err)
		}
	}

	// ENV_WS_{...} and ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_WS_ENABLED
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.WebSocketEnabled = bVal
			applog.Infof("configuration: Overriding transport.websocket_enabled from env: %v", bVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_WS_ENABLED=%q: %v", val, err)
		}
	}
	// ENV_WS_ADDRESS
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Transport.WebSocketAddress = val
		applog.Infof("configuration: Overriding transport.websocket_address from env: %s", val)
	}
	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			applog.Infof("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_UDP_ENABLED=%q: %v", val, err)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			applog.Infof("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		} else {
			applog.Warnf("configuration: ignoring ENV_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}
}
