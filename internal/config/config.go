// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the capture and analysis pipeline.
const (
	// Default values for the audio input
	DefaultChannels        = 1           // Mono capture, stereo devices are mixed down
	DefaultDeviceID        = MinDeviceID // Default to system default device
	DefaultFormat          = "wav"       // WAV file format for recordings
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultLowLatency      = false       // Standard latency mode
	DefaultSampleRate      = 44100       // CD-quality audio
	DefaultGateThreshold   = 0.0         // Noise gate disabled
	DefaultBitDepth        = 16          // Recording bit depth
	DefaultOutputDir       = "./recordings"
	DefaultLogLevel        = "info"

	// Analysis
	// Input gain applied before clamping.
	DefaultSensitivity = 1.4
	DefaultWindow      = "blackman"

	// Driver
	DefaultTickRate = 60.0 // Analysis steps per second

	// Transports
	DefaultWebSocketAddress = "127.0.0.1:8080"
	DefaultWebSocketPath    = "/ws"
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxTickRate     = 1000.0 // Upper bound for the driver tick rate (Hz)

	// Error handling configuration
	DefaultMaxConsecutiveWriteFailures = 5 // Max failures before recording stops
)
