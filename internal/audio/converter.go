package audio

import (
	"fmt"
	"math"
)

// ConvertPCMToPCMU converts linear PCM audio to G.711 PCMU (mu-law) format.
// Input: PCM audio data (16-bit signed integers, little-endian).
// Output: PCMU (mu-law) encoded audio data.
func ConvertPCMToPCMU(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := bytesToSamples(pcmData)

	if inputSampleRate != outputSampleRate {
		samples = Resample(samples, inputSampleRate, outputSampleRate)
	}

	pcmuData := make([]byte, len(samples))
	for i, sample := range samples {
		pcmuData[i] = linearToMulaw(sample)
	}

	return pcmuData, nil
}

// Resample performs linear-interpolation resampling between arbitrary rates.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// linearToMulaw converts a 16-bit linear PCM sample to 8-bit mu-law
// (ITU-T G.711 algorithm).
func linearToMulaw(sample int16) byte {
	const (
		clip = 8159 // maximum magnitude to clip input (14-bit range)
		bias = 0x21 // bias value (33 decimal)
	)

	var sign byte
	magnitude := int32(sample)

	if sample < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	magnitude >>= 2 // 16-bit input onto the 14-bit G.711 range

	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	var segment byte
	switch {
	case magnitude >= 0x1000:
		segment = 7
	case magnitude >= 0x800:
		segment = 6
	case magnitude >= 0x400:
		segment = 5
	case magnitude >= 0x200:
		segment = 4
	case magnitude >= 0x100:
		segment = 3
	case magnitude >= 0x80:
		segment = 2
	case magnitude >= 0x40:
		segment = 1
	default:
		segment = 0
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)

	ulawByte := sign | (segment << 4) | mantissa
	return ^ulawByte
}

// ConvertPCMUToPCM converts G.711 PCMU (mu-law) to linear PCM.
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}

	pcmData := make([]byte, len(pcmuData)*2)
	for i, mulawByte := range pcmuData {
		sample := mulawToLinear(mulawByte)
		pcmData[i*2] = byte(sample)
		pcmData[i*2+1] = byte(sample >> 8)
	}

	return pcmData, nil
}

// mulawToLinear converts an 8-bit mu-law sample to 16-bit linear PCM.
// Silence in mu-law is 0xFF; this is the inverse of linearToMulaw.
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := (step - 33) << 2 // 14-bit G.711 range back onto 16-bit

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS returns the root-mean-square level of samples, normalized to
// [0,1] against the full int16 range. A VAD threshold of ~0.015 on this scale
// corresponds to the raw-amplitude threshold of ~500 used by telephony VADs.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		v := float64(sample)
		sum += v * v
	}

	rawRMS := math.Sqrt(sum / float64(len(samples)))
	return rawRMS / 32768.0
}

// BytesToSamples reinterprets little-endian 16-bit PCM bytes as samples,
// for callers (VAD, RMS) that only have the wire format on hand.
func BytesToSamples(data []byte) []int16 {
	return bytesToSamples(data)
}

func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
