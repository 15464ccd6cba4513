package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Client-side encodings accepted on the live ingest socket
const (
	EncodingPCM16 = "pcm16"
	EncodingMulaw = "mulaw"
)

// DecodePCM16 converts 16-bit little-endian PCM bytes to samples
func DecodePCM16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// EncodePCM16 converts samples to 16-bit little-endian PCM bytes
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ToProviderPCM converts a client chunk in the given encoding and rate to
// PCM16 at the provider rate
func ToProviderPCM(data []byte, encoding string, inputRate, outputRate int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio chunk")
	}

	var pcm []byte
	switch strings.ToLower(encoding) {
	case "", EncodingPCM16, "linear16":
		pcm = data
	case EncodingMulaw, "pcmu", "ulaw":
		pcm = DecodeMulaw(data)
	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", encoding)
	}

	if inputRate <= 0 || inputRate == outputRate {
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
		}
		return pcm, nil
	}
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	return EncodePCM16(Resample(samples, inputRate, outputRate)), nil
}

// Resample performs linear interpolation resampling
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// DecodeMulaw converts G.711 μ-law bytes to 16-bit little-endian PCM
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(mulawToLinear(b)))
	}
	return out
}

// EncodeMulaw converts 16-bit little-endian PCM to G.711 μ-law bytes
func EncodeMulaw(pcm []byte) ([]byte, error) {
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out, nil
}

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// linearToMulaw encodes one sample (ITU-T G.711)
func linearToMulaw(sample int16) byte {
	var sign byte
	magnitude := int32(sample)
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > mulawClip {
		magnitude = mulawClip
	}
	magnitude += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && magnitude&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((magnitude >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// mulawToLinear decodes one μ-law byte (ITU-T G.711)
func mulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := int32((b >> 4) & 0x07)
	mantissa := int32(b & 0x0F)

	magnitude := ((mantissa << 3) + mulawBias) << exponent
	magnitude -= mulawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// PCMDuration returns the playback length in seconds of a PCM16 buffer
func PCMDuration(bytes, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(bytes) / float64(2*sampleRate*channels)
}
