package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the fixed capture rate used for every recording.
	SampleRate = 16000

	// BytesPerSample is the width of one signed 16-bit sample.
	BytesPerSample = 2
)

// Quantize converts a floating-point sample into a signed 16-bit sample.
// The input is clamped to [-1, 1]. Negative values scale by 32768 and
// non-negative values by 32767 so that both ends map exactly onto the int16 range.
func Quantize(sample float32) int16 {
	s := float64(sample)
	if math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}

	if s < 0 {
		return int16(math.Round(s * 32768))
	}
	return int16(math.Round(s * 32767))
}

// QuantizeFrame quantizes a whole frame. The returned slice is newly allocated.
func QuantizeFrame(frame []float32) []int16 {
	out := make([]int16, len(frame))
	for i, s := range frame {
		out[i] = Quantize(s)
	}
	return out
}

// PCMBytes serializes samples as little-endian 16-bit PCM.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// SamplesFromPCM parses little-endian 16-bit PCM. A trailing odd byte is ignored.
func SamplesFromPCM(data []byte) []int16 {
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return out
}

// EncodePCMBase64 returns the base64 payload carried by an audio_chunk frame.
func EncodePCMBase64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(PCMBytes(samples))
}

// DecodePCMBase64 reverses EncodePCMBase64.
func DecodePCMBase64(payload string) ([]int16, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return SamplesFromPCM(data), nil
}

// Dequantize is the inverse of Quantize for replaying stored PCM as float frames.
func Dequantize(sample int16) float32 {
	if sample < 0 {
		return float32(float64(sample) / 32768)
	}
	return float32(float64(sample) / 32767)
}

// DequantizeFrame converts a block of PCM samples to float frames.
func DequantizeFrame(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = Dequantize(s)
	}
	return out
}
