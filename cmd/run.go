// SPDX-License-Identifier: MIT
package cmd

import (
	"audioviz/internal/analysis"
	"audioviz/internal/audio"
	"audioviz/internal/config"
	"audioviz/internal/driver"
	applog "audioviz/internal/log"
	"audioviz/internal/transport"
	"audioviz/internal/transport/udp"
	"audioviz/internal/tui"
	"audioviz/pkg/build"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// logFileName receives log output while the terminal meter owns the screen.
const logFileName = "audioviz.log"

// Run executes the command selected in opts.
func Run(ctx context.Context, cfg *config.Config, opts *Options, stdout io.Writer) error {
	switch opts.Command {
	case CommandList:
		return List(opts, stdout)
	case CommandAnalyze:
		return Analyze(ctx, cfg, opts, stdout)
	default:
		return Live(ctx, cfg, opts)
	}
}

// List prints the input devices, or runs the interactive browser.
func List(opts *Options, stdout io.Writer) error {
	if !opts.Interactive {
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()
		return audio.ListDevices(stdout)
	}

	sel, ok, err := tui.RunDeviceBrowser(audio.GetDevices)
	if err != nil || !ok {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s --device %d --sample-rate %d\n",
		build.GetBuildFlags().Name, sel.Device.ID, sel.SampleRate)
	return err
}

// newSinks builds the push transports enabled in cfg.
func newSinks(cfg *config.Config) ([]transport.Transport, error) {
	var sinks []transport.Transport

	t := cfg.Transport
	if t.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(t.WebSocketAddress, t.WebSocketPath)
		if err := ws.Start(); err != nil {
			ws.Close()
			return nil, err
		}
		sinks = append(sinks, ws)
	}
	if t.LogSnapshots {
		sinks = append(sinks, transport.NewLoggingTransport(int(cfg.Driver.TickRate)))
	}
	return sinks, nil
}

// startPublisher starts the UDP publisher when enabled.
func startPublisher(cfg *config.Config, provider transport.SnapshotProvider) (*udp.UDPPublisher, error) {
	t := cfg.Transport
	if !t.UDPEnabled {
		return nil, nil
	}
	sender, err := udp.NewUDPSender(t.UDPTargetAddress)
	if err != nil {
		return nil, err
	}
	pub, err := udp.NewUDPPublisher(t.UDPSendInterval, sender, provider)
	if err != nil {
		sender.Close()
		return nil, err
	}
	pub.Start()
	return pub, nil
}

// newEngine builds the engine for src and applies the initial gain.
func newEngine(cfg *config.Config, src analysis.SignalSource) (*analysis.Engine, error) {
	engine, err := analysis.NewEngine(cfg.EngineConfig(), src)
	if err != nil {
		return nil, err
	}
	engine.SetSensitivity(cfg.Analysis.Sensitivity)
	return engine, nil
}

// Analyze replays a WAV file through the engine and writes JSON-lines
// snapshots to stdout.
func Analyze(ctx context.Context, cfg *config.Config, opts *Options, stdout io.Writer) error {
	engineCfg := cfg.EngineConfig()
	src, err := audio.OpenFile(opts.File, engineCfg.SpectrumConfig(), cfg.Driver.TickRate)
	if err != nil {
		return err
	}
	applog.Infof("analyze: %s, %v at %dHz", opts.File, src.Duration(), src.SampleRate())

	engine, err := newEngine(cfg, src)
	if err != nil {
		return err
	}

	sinks := []transport.Transport{transport.NewJSONLinesTransport(stdout, opts.Every)}
	if opts.Realtime {
		extra, err := newSinks(cfg)
		if err != nil {
			return err
		}
		sinks = append(sinks, extra...)
	}

	d, err := driver.New(engine, src, cfg.Driver.Interval(), sinks...)
	if err != nil {
		return err
	}
	defer d.Close()

	if !opts.Realtime {
		return d.Drain(ctx)
	}

	pub, err := startPublisher(cfg, d)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}
	return d.Run(ctx)
}

// Live captures from the configured input device until ctx is cancelled
// or the user quits the meter.
func Live(ctx context.Context, cfg *config.Config, opts *Options) (err error) {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	engineCfg := cfg.EngineConfig()
	capture, err := audio.NewCapture(audio.CaptureConfig{
		DeviceID:        cfg.Audio.InputDevice,
		SampleRate:      cfg.Audio.SampleRate,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		Channels:        cfg.Audio.InputChannels,
		LowLatency:      cfg.Audio.LowLatency,
		GateThreshold:   cfg.Audio.GateThreshold,
		Spectrum:        engineCfg.SpectrumConfig(),
	})
	if err != nil {
		return err
	}
	var rec *audio.Recorder
	defer func() {
		err = errors.Join(err, shutdownCapture(capture, rec, os.Stderr))
	}()

	if cfg.Recording.Enabled {
		if rec, err = startRecording(cfg, opts, capture); err != nil {
			return err
		}
	}

	engine, err := newEngine(cfg, capture)
	if err != nil {
		return err
	}
	sinks, err := newSinks(cfg)
	if err != nil {
		return err
	}
	d, err := driver.New(engine, capture, cfg.Driver.Interval(), sinks...)
	if err != nil {
		return err
	}
	defer d.Close()

	pub, err := startPublisher(cfg, d)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	// Audio callbacks begin here.
	if err := capture.StartInputStream(); err != nil {
		return err
	}

	if !opts.TUI {
		return d.Run(ctx)
	}
	return runWithMeter(ctx, d, capture)
}

// startRecording attaches a recorder to capture and opens the output file.
func startRecording(cfg *config.Config, opts *Options, capture *audio.Capture) (*audio.Recorder, error) {
	rec, err := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.InputChannels,
		cfg.Recording.BitDepth, cfg.Audio.FramesPerBuffer)
	if err != nil {
		return nil, err
	}

	filename := opts.OutputFile
	if filename == "" {
		filename = audio.RecordingFilename(cfg.Recording.OutputDir, time.Now())
	}
	maxDuration := time.Duration(cfg.Recording.MaxDuration) * time.Second
	if err := rec.Start(filename, maxDuration); err != nil {
		return nil, err
	}
	capture.AttachRecorder(rec)
	return rec, nil
}

// inputStream is the part of audio.Capture that shutdown needs.
type inputStream interface {
	StopInputStream() error
}

// shutdownCapture stops the stream before finalising rec, and reports the
// recording to w only once its file is complete. rec may be nil.
func shutdownCapture(stream inputStream, rec *audio.Recorder, w io.Writer) error {
	err := stream.StopInputStream()
	if rec == nil || !rec.Recording() {
		return err
	}
	if serr := rec.Stop(); serr != nil {
		return errors.Join(err, serr)
	}
	fmt.Fprintf(w, "\nRecording saved to: %s\n", rec.Filename())
	return err
}

// runWithMeter runs the driver in the background while the meter owns the
// terminal. Logs go to a file for the duration.
func runWithMeter(ctx context.Context, d *driver.Driver, capture *audio.Capture) error {
	logPath := filepath.Join(os.TempDir(), logFileName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	applog.SetOutput(logFile)
	defer func() {
		applog.SetOutput(os.Stderr)
		logFile.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	title := fmt.Sprintf("%s %s  %s", build.GetBuildFlags().Name, build.GetBuildFlags().Version, capture.Device().Name)
	meterErr := tui.RunMeter(ctx, d, time.Second/30, title)
	if ctx.Err() != nil {
		// Killed by a signal rather than by the user.
		meterErr = nil
	}

	cancel()
	return errors.Join(meterErr, <-done)
}
