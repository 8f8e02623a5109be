// SPDX-License-Identifier: MIT
package cmd

import (
	"audioviz/internal/config"
	"audioviz/pkg/build"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Commands selected on the command line.
const (
	CommandLive    = ""
	CommandList    = "list"
	CommandAnalyze = "analyze"
)

// Options holds everything parsed from the command line. Flag values only
// override the loaded configuration when the flag was given explicitly.
type Options struct {
	Command    string
	ConfigPath string

	// Live capture.
	DeviceID        int
	SampleRate      int
	FramesPerBuffer int
	Sensitivity     float64
	Record          bool
	OutputFile      string
	WebSocket       bool
	UDP             bool
	TUI             bool
	Verbose         bool

	// list
	Interactive bool

	// analyze
	File     string
	Every    int
	Realtime bool

	changed map[string]bool
}

// ParseArgs parses args (without the program name). It returns nil
// options and no error when cobra handled the invocation itself, for
// example --help or --version.
func ParseArgs(args []string, stdout io.Writer) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{changed: map[string]bool{}}
	ran := false

	markRun := func(command string) func(*cobra.Command, []string) {
		return func(cmd *cobra.Command, args []string) {
			ran = true
			options.Command = command
			cmd.Flags().Visit(func(f *pflag.Flag) {
				options.changed[f.Name] = true
			})
		}
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Summary(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Run: markRun(CommandLive),
	}
	rootCmd.SetOut(stdout)

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio input devices",
		Args:  cobra.NoArgs,
		Run:   markRun(CommandList),
	}
	listCmd.Flags().BoolVarP(&options.Interactive, "interactive", "i", false,
		"Browse devices and pick a sample rate interactively")
	rootCmd.AddCommand(listCmd)

	// Analyze command
	analyzeCmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Run the analysis over a WAV file and print JSON snapshots",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			markRun(CommandAnalyze)(cmd, args)
			options.File = args[0]
		},
	}
	analyzeCmd.Flags().IntVarP(&options.Every, "every", "e", 1,
		"Print every n-th snapshot")
	analyzeCmd.Flags().BoolVar(&options.Realtime, "realtime", false,
		"Replay at the tick rate instead of as fast as possible (feeds --ws/--udp consumers)")
	rootCmd.AddCommand(analyzeCmd)

	flags := rootCmd.PersistentFlags()

	// Configuration
	flags.StringVar(&options.ConfigPath, "config", "",
		"Path to a YAML configuration file (default: ./config.yaml when present)")

	// Audio Device Configuration
	flags.IntVarP(&options.DeviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.IntVarP(&options.SampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&options.FramesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")

	// Analysis
	flags.Float64Var(&options.Sensitivity, "sensitivity", config.DefaultSensitivity,
		"Initial input gain applied before feature extraction")

	// Recording Configuration
	flags.BoolVarP(&options.Record, "record", "r", false,
		"Record audio from the specified input device")
	flags.StringVarP(&options.OutputFile, "output", "o", "",
		"Recording file name. Default is <output_dir>/audioviz-YYYYMMDD-HHMMSS.wav")

	// Transports
	flags.BoolVar(&options.WebSocket, "ws", false,
		"Broadcast JSON snapshots over WebSocket (transport.websocket_address)")
	flags.BoolVar(&options.UDP, "udp", false,
		"Send binary snapshot packets over UDP (transport.udp_target_address)")

	// Display
	flags.BoolVar(&options.TUI, "tui", isatty.IsTerminal(os.Stdout.Fd()),
		"Show the live terminal meter")

	// Debug Configuration
	flags.BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if !ran {
		return nil, nil
	}
	return options, nil
}

// Changed reports whether the named flag was set on the command line.
func (o *Options) Changed(name string) bool {
	return o.changed[name]
}

// Apply writes explicitly set flags over cfg and validates the result.
func (o *Options) Apply(cfg *config.Config) error {
	if o.Changed("device") {
		cfg.Audio.InputDevice = o.DeviceID
	}
	if o.Changed("sample-rate") {
		cfg.Audio.SampleRate = o.SampleRate
	}
	if o.Changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = o.FramesPerBuffer
	}
	if o.Changed("sensitivity") {
		cfg.Analysis.Sensitivity = o.Sensitivity
	}
	if o.Record || o.Changed("output") {
		cfg.Recording.Enabled = true
	}
	if o.WebSocket {
		cfg.Transport.WebSocketEnabled = true
	}
	if o.UDP {
		cfg.Transport.UDPEnabled = true
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("after applying flags: %w", err)
	}
	return nil
}
