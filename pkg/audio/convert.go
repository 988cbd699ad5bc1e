package audio

import (
	"fmt"
	"math"
)

// Canonical converts p to mono at [TargetRate]. Conversion order: resample
// first (per channel), then downmix. If p already matches, it is returned
// unchanged (zero allocation).
func Canonical(p PCM) PCM {
	if p.IsCanonical() {
		return p
	}
	samples := p.Samples
	if p.SampleRate != TargetRate {
		samples = Resample(samples, p.Channels, p.SampleRate, TargetRate)
	}
	if p.Channels > 1 {
		samples = Downmix(samples, p.Channels)
	}
	return PCM{Samples: samples, SampleRate: TargetRate, Channels: 1}
}

// Downmix averages each interleaved frame of channels samples into a single
// mono sample. A trailing partial frame is dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation on each channel. If srcRate == dstRate, the input is returned
// unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for c := range channels {
			s0 := samples[srcIdx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// Int16ToFloat32 converts little-endian int16 PCM bytes to float32 samples
// in [-1, 1]. A trailing odd byte is ignored.
func Int16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// IntToFloat32 converts integer samples of the given bit depth to float32
// samples in [-1, 1]. 8-bit input is treated as unsigned, as in WAV files.
func IntToFloat32(samples []int, bitDepth int) []float32 {
	out := make([]float32, len(samples))
	if bitDepth == 8 {
		for i, s := range samples {
			out[i] = float32(s-128) / 128.0
		}
		return out
	}
	if bitDepth <= 0 || bitDepth > 32 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	for i, s := range samples {
		out[i] = float32(s) / scale
	}
	return out
}

// Float32ToInt16 converts float32 samples to int16 values, clamping to the
// int16 range.
func Float32ToInt16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int(v)
	}
	return out
}

// LEFloat32 decodes raw little-endian IEEE-754 float32 bytes, the output
// format of `ffmpeg -f f32le`. A trailing partial sample is ignored.
func LEFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
