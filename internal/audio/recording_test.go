// SPDX-License-Identifier: MIT
package audio

import (
	"audioviz/internal/analysis"
	"audioviz/pkg/utils"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T, channels, bitDepth int) *Recorder {
	t.Helper()
	r, err := NewRecorder(testSampleRate, channels, bitDepth, testFrameSize)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return r
}

func decodeRecording(t *testing.T, filename string) *FileSource {
	t.Helper()
	src, err := OpenFile(filename, analysis.DefaultSpectrumConfig(testFFTSize), 60)
	if err != nil {
		t.Fatalf("OpenFile(%s) error = %v", filename, err)
	}
	return src
}

func TestRecordingStartStopHotPath(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test_recording.wav")
	recorder := newTestRecorder(t, 2, 16)

	if err := recorder.Start(filename, 0); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	if !recorder.Recording() {
		t.Error("Recorder should be in recording state")
	}
	if recorder.outputFile == nil {
		t.Error("Output file should be initialized")
	}
	if recorder.wavEncoder == nil {
		t.Error("WAV encoder should be initialized")
	}
	if recorder.Filename() != filename {
		t.Errorf("Filename() = %q, want %q", recorder.Filename(), filename)
	}

	if err := recorder.Stop(); err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}

	if recorder.Recording() {
		t.Error("Recorder should not be in recording state")
	}
	if recorder.outputFile != nil {
		t.Error("Output file should be nil after stopping")
	}
	if recorder.wavEncoder != nil {
		t.Error("WAV encoder should be nil after stopping")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Error("Recording file was not created")
	}
}

func TestRecordingErrorsHotPath(t *testing.T) {
	t.Run("Start twice", func(t *testing.T) {
		recorder := newTestRecorder(t, 1, 16)
		filename := filepath.Join(t.TempDir(), "twice.wav")
		if err := recorder.Start(filename, 0); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer recorder.Stop()

		if err := recorder.Start(filename, 0); !errors.Is(err, ErrAlreadyRecording) {
			t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyRecording)
		}
	})

	t.Run("Stop without start", func(t *testing.T) {
		recorder := newTestRecorder(t, 1, 16)
		if err := recorder.Stop(); !errors.Is(err, ErrNotRecording) {
			t.Errorf("Stop() error = %v, want %v", err, ErrNotRecording)
		}
	})

	t.Run("Invalid path", func(t *testing.T) {
		// A directory cannot be created below a regular file, even as root.
		blocker := filepath.Join(t.TempDir(), "blocker")
		if err := os.WriteFile(blocker, nil, 0o644); err != nil {
			t.Fatal(err)
		}

		recorder := newTestRecorder(t, 1, 16)
		if err := recorder.Start(filepath.Join(blocker, "sub", "x.wav"), 0); err == nil {
			t.Error("Start() should fail below a regular file")
		}
		if recorder.Recording() {
			t.Error("failed Start() left the recorder recording")
		}
	})

	t.Run("Unsupported bit depth", func(t *testing.T) {
		if _, err := NewRecorder(testSampleRate, 1, 12, testFrameSize); !errors.Is(err, ErrBitDepth) {
			t.Errorf("NewRecorder(12 bit) error = %v, want %v", err, ErrBitDepth)
		}
	})

	t.Run("Invalid layout", func(t *testing.T) {
		if _, err := NewRecorder(0, 1, 16, testFrameSize); !errors.Is(err, ErrInvalidLayout) {
			t.Errorf("NewRecorder(0 Hz) error = %v, want %v", err, ErrInvalidLayout)
		}
	})
}

func TestRecordingRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		bitDepth int
	}{
		{"mono 16 bit", 1, 16},
		{"stereo 24 bit", 2, 24},
		{"mono 32 bit", 1, 32},
	}

	signal := utils.GenerateSineWave(4*testFrameSize, testSampleRate, 440, 0.5)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filename := filepath.Join(t.TempDir(), "roundtrip.wav")
			recorder := newTestRecorder(t, tt.channels, tt.bitDepth)
			if err := recorder.Start(filename, 0); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			// Every channel carries the same signal so the mono mix equals it.
			in := make([]float32, len(signal)*tt.channels)
			for i, v := range signal {
				for ch := range tt.channels {
					in[i*tt.channels+ch] = float32(v)
				}
			}
			for off := 0; off < len(in); off += testFrameSize * tt.channels {
				recorder.Write(in[off : off+testFrameSize*tt.channels])
			}
			if recorder.Frames() != len(signal) {
				t.Errorf("Frames() = %d, want %d", recorder.Frames(), len(signal))
			}
			if err := recorder.Stop(); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}

			src := decodeRecording(t, filename)
			if len(src.samples) != len(signal) {
				t.Fatalf("decoded %d samples, want %d", len(src.samples), len(signal))
			}
			for i, want := range signal {
				if absFloat(src.samples[i]-want) > 1e-4 {
					t.Fatalf("sample %d = %v, want %v", i, src.samples[i], want)
				}
			}
		})
	}
}

func TestRecordingClampsSamples(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "clamp.wav")
	recorder := newTestRecorder(t, 1, 16)
	if err := recorder.Start(filename, 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	nan := float32(0)
	nan /= nan
	recorder.Write([]float32{2, -2, nan, 0.25})
	if err := recorder.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	src := decodeRecording(t, filename)
	want := []float64{32767.0 / 32768, -32767.0 / 32768, 0, 0.25}
	for i, w := range want {
		if absFloat(src.samples[i]-w) > 1e-4 {
			t.Errorf("sample %d = %v, want %v", i, src.samples[i], w)
		}
	}
}

func TestRecordingMaxDuration(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "capped.wav")
	recorder := newTestRecorder(t, 1, 16)
	if err := recorder.Start(filename, 10*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	in := toFloat32(testBuffer)
	recorder.Write(in)
	recorder.Write(in)
	recorder.Write(in)

	if got := recorder.Frames(); got != 441 {
		t.Errorf("Frames() = %d, want 441 (10ms at 44.1kHz)", got)
	}
	if err := recorder.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	src := decodeRecording(t, filename)
	if len(src.samples) != 441 {
		t.Errorf("decoded %d samples, want 441", len(src.samples))
	}
}

func TestRecordingWriteWhenStopped(t *testing.T) {
	recorder := newTestRecorder(t, 1, 16)
	recorder.Write(toFloat32(testBuffer))
	if recorder.Frames() != 0 {
		t.Errorf("Frames() = %d after writing to an idle recorder", recorder.Frames())
	}
}

func TestRecordingFilename(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	got := RecordingFilename("recordings", ts)
	want := filepath.Join("recordings", "audioviz-20240309-140507.wav")
	if got != want {
		t.Errorf("RecordingFilename() = %q, want %q", got, want)
	}
	if !strings.HasSuffix(got, ".wav") {
		t.Error("recording name should end in .wav")
	}
}

func TestCaptureRecordsAndCloseStops(t *testing.T) {
	cfg := testCaptureConfig(1, testFFTSize)
	c := newTestCapture(t, cfg)
	recorder := newTestRecorder(t, 1, 16)
	c.AttachRecorder(recorder)

	filename := filepath.Join(t.TempDir(), "capture.wav")
	if err := recorder.Start(filename, 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.processInputStream(toFloat32(testBuffer))
	c.processInputStream(toFloat32(testBuffer))

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if recorder.Recording() {
		t.Error("Close() should stop the attached recorder")
	}

	src := decodeRecording(t, filename)
	if len(src.samples) != 2*testFrameSize {
		t.Errorf("recorded %d samples, want %d", len(src.samples), 2*testFrameSize)
	}
}

func TestCaptureCloseReportsRecorderFailure(t *testing.T) {
	cfg := testCaptureConfig(1, testFFTSize)
	c := newTestCapture(t, cfg)
	recorder := newTestRecorder(t, 1, 16)
	c.AttachRecorder(recorder)

	if err := recorder.Start(filepath.Join(t.TempDir(), "broken.wav"), 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.processInputStream(toFloat32(testBuffer))

	// Rewriting the header fails on a closed handle.
	recorder.outputFile.Close()

	if err := c.Close(); err == nil {
		t.Error("Close() should report the failed recording")
	}
	if recorder.Recording() {
		t.Error("recorder still recording after a failed Close()")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func BenchmarkRecordingWrite(b *testing.B) {
	recorder, err := NewRecorder(testSampleRate, 1, 16, testFrameSize)
	if err != nil {
		b.Fatal(err)
	}
	if err := recorder.Start(filepath.Join(b.TempDir(), "bench.wav"), 0); err != nil {
		b.Fatal(err)
	}
	defer recorder.Stop()
	in := toFloat32(testBuffer)

	b.ReportAllocs()

	for b.Loop() {
		recorder.Write(in)
	}
}
