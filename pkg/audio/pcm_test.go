package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	got := audio.Samples(audio.Bytes(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestSamples_OddLength(t *testing.T) {
	got := audio.Samples([]byte{1, 0, 7})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}

func TestFloat32(t *testing.T) {
	got := audio.Float32(audio.Bytes([]int16{0, 16384, -32768}))
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{name: "empty", pcm: nil, want: 0},
		{name: "silence", pcm: audio.Bytes(make([]int16, 480)), want: 0},
		{name: "constant half", pcm: audio.Bytes([]int16{16384, -16384, 16384, -16384}), want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.RMS(tt.pcm)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResampler_SameRate(t *testing.T) {
	pcm := audio.Bytes([]int16{100, 200, 300})
	out := audio.NewResampler(48000, 48000).Process(pcm)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampler_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := audio.Bytes([]int16{100, 200, 300, 400, 500, 600})
	got := audio.Samples(audio.NewResampler(48000, 16000).Process(pcm))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 || got[1] != 400 {
		t.Errorf("samples = %v, want [100 400]", got)
	}
}

func TestResampler_ZeroRate(t *testing.T) {
	pcm := audio.Bytes([]int16{1, 2})
	if out := audio.NewResampler(0, 16000).Process(pcm); len(out) != len(pcm) {
		t.Errorf("zero src rate: got %d bytes, want passthrough", len(out))
	}
}

func TestResampler_ChunkingDoesNotDrift(t *testing.T) {
	const (
		chunk  = 2646 // 60 ms at 44.1 kHz
		chunks = 50
	)
	ramp := make([]int16, chunk*chunks)
	for i := range ramp {
		ramp[i] = int16(i % 30000)
	}

	whole := audio.Samples(audio.NewResampler(44100, 16000).Process(audio.Bytes(ramp)))

	r := audio.NewResampler(44100, 16000)
	var streamed []int16
	for i := range chunks {
		streamed = append(streamed, audio.Samples(r.Process(audio.Bytes(ramp[i*chunk:(i+1)*chunk])))...)
	}

	// 3 s of input at 44.1 kHz is exactly 48000 samples at 16 kHz.
	if want := 48000; len(streamed) != want {
		t.Fatalf("streamed %d samples, want %d", len(streamed), want)
	}
	if len(whole) != len(streamed) {
		t.Fatalf("whole = %d samples, streamed = %d", len(whole), len(streamed))
	}
	for i := range whole {
		if whole[i] != streamed[i] {
			t.Fatalf("sample %d: streamed %d, whole %d", i, streamed[i], whole[i])
		}
	}
}

func TestFormat(t *testing.T) {
	f := audio.Capture
	if got := f.BlockAlign(); got != 2 {
		t.Errorf("BlockAlign = %d, want 2", got)
	}
	if got := f.ByteRate(); got != 32000 {
		t.Errorf("ByteRate = %d, want 32000", got)
	}
	if got := f.FrameBytes(audio.FrameSamples); got != 960 {
		t.Errorf("FrameBytes = %d, want 960", got)
	}
	if got := f.BytesFor(30 * time.Second); got != 960000 {
		t.Errorf("BytesFor(30s) = %d, want 960000", got)
	}
	if got := f.BytesFor(200 * time.Millisecond); got != 6400 {
		t.Errorf("BytesFor(200ms) = %d, want 6400", got)
	}
	if got := f.Duration(9600); got != 300*time.Millisecond {
		t.Errorf("Duration(9600) = %v, want 300ms", got)
	}
	if got := f.String(); got != "16000Hz mono s16le" {
		t.Errorf("String = %q", got)
	}
}
