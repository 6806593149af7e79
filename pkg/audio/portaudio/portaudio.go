// Package portaudio captures microphone audio through the PortAudio C library.
//
// PortAudio must be initialised once per process; [New] does that and
// [Opener.Close] terminates it. When the default input device cannot capture
// at 16 kHz natively, use [WithDeviceRate] to capture at the device rate and
// resample in software.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Option is a functional option for [Opener].
type Option func(*Opener)

// WithDeviceRate captures at rate Hz and resamples to the requested format.
// Zero means capture at the requested rate directly.
func WithDeviceRate(rate int) Option {
	return func(o *Opener) { o.deviceRate = rate }
}

// WithDevice selects an input device by name instead of the host default.
func WithDevice(name string) Option {
	return func(o *Opener) { o.deviceName = name }
}

// Opener opens PortAudio input streams. It implements [audio.Opener].
type Opener struct {
	deviceRate int
	deviceName string

	closeOnce sync.Once
}

// New initialises PortAudio and returns an Opener.
func New(opts ...Option) (*Opener, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	o := &Opener{}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Close terminates PortAudio. Sources opened from o must be closed first.
func (o *Opener) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = portaudio.Terminate()
	})
	return err
}

// MinBufferSize reports the device's low-latency buffer for f in bytes, or
// one VAD frame when the device cannot be queried.
func (o *Opener) MinBufferSize(f audio.Format) int {
	dev, err := o.device()
	if err != nil {
		return f.FrameBytes(audio.FrameSamples)
	}
	samples := int(dev.DefaultLowInputLatency.Seconds() * float64(f.SampleRate))
	return samples * f.BlockAlign()
}

// Open starts an input stream for cfg.
func (o *Opener) Open(ctx context.Context, cfg audio.OpenConfig) (audio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Format.BitsPerSample != 16 || cfg.Format.Channels != 1 {
		return nil, fmt.Errorf("portaudio: unsupported format %s", cfg.Format)
	}
	dev, err := o.device()
	if err != nil {
		return nil, err
	}

	rate := cfg.Format.SampleRate
	if o.deviceRate > 0 {
		rate = o.deviceRate
	}

	// The device buffer is sized in device samples.
	frames := cfg.BufferBytes / cfg.Format.BlockAlign()
	frames = frames * rate / cfg.Format.SampleRate
	if frames <= 0 {
		frames = audio.FrameSamples
	}

	buf := make([]int16, frames)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	slog.Debug("portaudio: stream started",
		"device", dev.Name,
		"device_rate", rate,
		"frames_per_buffer", frames,
		"format", cfg.Format.String(),
	)

	return &source{
		stream:   stream,
		buf:      buf,
		resample: audio.NewResampler(rate, cfg.Format.SampleRate),
	}, nil
}

func (o *Opener) device() (*portaudio.DeviceInfo, error) {
	if o.deviceName == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devs {
		if d.Name == o.deviceName && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: input device %q not found", o.deviceName)
}

// source adapts a blocking PortAudio stream to [audio.Source]. Each stream
// read yields one device buffer; bytes the caller did not ask for are kept
// for the next Read.
type source struct {
	stream   *portaudio.Stream
	buf      []int16
	resample *audio.Resampler
	pending  []byte

	closeOnce sync.Once
	closeErr  error
}

func (s *source) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(s.pending) == 0 {
		if err := s.stream.Read(); err != nil {
			if err != portaudio.InputOverflowed {
				return 0, fmt.Errorf("portaudio: read: %w", err)
			}
			// Overflow means samples were dropped before this buffer; the
			// buffer itself is valid.
			slog.Debug("portaudio: input overflowed")
		}
		s.pending = append(s.pending, s.resample.Process(audio.Bytes(s.buf))...)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *source) Close() error {
	s.closeOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.closeErr = fmt.Errorf("portaudio: stop stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("portaudio: close stream: %w", err)
		}
	})
	return s.closeErr
}

var _ audio.Opener = (*Opener)(nil)
