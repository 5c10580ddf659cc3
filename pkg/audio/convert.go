package audio

import (
	"encoding/binary"
	"math"
)

// PipelineRate is the sample rate every [Source] must deliver.
const PipelineRate = 16000

// BytesToInt16s decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func BytesToInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Int16sToBytes encodes samples as little-endian int16 PCM.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32s scales samples to [-1, 1), the input format of whisper.cpp.
func Float32s(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples. An empty block has
// zero energy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Downmix averages interleaved channels into mono. Averaging uses int32
// arithmetic, so the result always fits int16.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var acc int32
		for c := range channels {
			acc += int32(samples[i*channels+c])
		}
		out[i] = int16(acc / int32(channels))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. Non-positive rates and equal rates return the input.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// ToPipeline converts a transport frame into 16 kHz mono samples. Frames with
// an odd byte count are corrupt and yield nil.
func ToPipeline(frame AudioFrame) []int16 {
	if len(frame.Data)%2 != 0 {
		return nil
	}
	samples := BytesToInt16s(frame.Data)
	samples = Downmix(samples, frame.Channels)
	return Resample(samples, frame.SampleRate, PipelineRate)
}

// Upmix duplicates mono samples into every one of channels interleaved
// channels.
func Upmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)*channels)
	for i, s := range samples {
		for c := range channels {
			out[i*channels+c] = s
		}
	}
	return out
}
