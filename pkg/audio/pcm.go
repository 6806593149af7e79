package audio

import (
	"encoding/binary"
	"math"
)

// Samples decodes little-endian int16 PCM into samples. A trailing odd byte
// is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian int16 PCM.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32 converts little-endian int16 PCM to float32 samples in [-1, 1).
func Float32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square level of little-endian int16 PCM,
// normalised to [0, 1]. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Resampler converts a stream of 16-bit mono PCM chunks between rates with
// linear interpolation. The read position and the samples it still needs
// carry over between chunks, so output length tracks the exact rate ratio
// however the input is split. A Resampler is not safe for concurrent use.
type Resampler struct {
	src, dst int64

	// next is the index of the next output sample; hist holds input samples
	// from absolute index base onward.
	next int64
	base int64
	hist []int16
}

// NewResampler returns a Resampler from srcRate to dstRate. Non-positive or
// equal rates pass input through unchanged.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{src: int64(srcRate), dst: int64(dstRate)}
}

// Process consumes one chunk and returns every output sample that chunk
// completes.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.src <= 0 || r.dst <= 0 || r.src == r.dst {
		return pcm
	}
	r.hist = append(r.hist, Samples(pcm)...)
	end := r.base + int64(len(r.hist))

	var out []int16
	for {
		pos := r.next * r.src
		idx, rem := pos/r.dst, pos%r.dst
		if idx+1 >= end {
			break
		}
		s0 := float64(r.hist[idx-r.base])
		s1 := float64(r.hist[idx+1-r.base])
		frac := float64(rem) / float64(r.dst)
		out = append(out, int16(s0*(1-frac)+s1*frac))
		r.next++
	}

	keep := r.next * r.src / r.dst
	if drop := keep - r.base; drop > 0 {
		r.hist = append(r.hist[:0], r.hist[drop:]...)
		r.base = keep
	}
	return Bytes(out)
}
