package audio

import (
	"fmt"
	"math"
)

const (
	dtmfSampleRate    = 8000
	dtmfToneMs        = 160
	dtmfGapMs         = 60
	dtmfAmplitude     = 0.3 // full-scale fraction, kept low to avoid mu-law clipping
	mulawSilenceByte  = 0xFF
)

// dtmfFrequencies maps each standard 4x4 keypad digit to its row/column tone pair.
var dtmfFrequencies = map[byte][2]float64{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477}, 'A': {697, 1633},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477}, 'B': {770, 1633},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477}, 'C': {852, 1633},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477}, 'D': {941, 1633},
}

// GenerateDTMF renders digits as mu-law audio at 8kHz mono: each digit is a
// 160ms dual-sinusoid tone, separated by 60ms of silence. There is no gap
// before the first tone or after the last one.
func GenerateDTMF(digits string) ([]byte, error) {
	if len(digits) == 0 {
		return nil, fmt.Errorf("no DTMF digits supplied")
	}

	toneSamples := dtmfSampleRate * dtmfToneMs / 1000
	gapSamples := dtmfSampleRate * dtmfGapMs / 1000

	out := make([]byte, 0, len(digits)*(toneSamples+gapSamples))

	for i := 0; i < len(digits); i++ {
		digit := digits[i]
		freqs, ok := dtmfFrequencies[upperDigit(digit)]
		if !ok {
			return nil, fmt.Errorf("unsupported DTMF digit: %q", digit)
		}

		out = append(out, toneBytes(freqs[0], freqs[1], toneSamples)...)

		if i < len(digits)-1 {
			out = append(out, silenceBytes(gapSamples)...)
		}
	}

	return out, nil
}

func toneBytes(rowHz, colHz float64, samples int) []byte {
	buf := make([]byte, samples)
	for n := 0; n < samples; n++ {
		t := float64(n) / float64(dtmfSampleRate)
		v := math.Sin(2*math.Pi*rowHz*t) + math.Sin(2*math.Pi*colHz*t)
		v *= dtmfAmplitude * 0.5 // two summed sinusoids, halve to stay within amplitude budget
		sample := int16(v * 32767)
		buf[n] = linearToMulaw(sample)
	}
	return buf
}

func silenceBytes(samples int) []byte {
	buf := make([]byte, samples)
	for i := range buf {
		buf[i] = mulawSilenceByte
	}
	return buf
}

func upperDigit(b byte) byte {
	if b >= 'a' && b <= 'd' {
		return b - 'a' + 'A'
	}
	return b
}

// DTMFDurationMs returns the total playback duration of digits, matching the
// formula used to extend the echo-suppression window: 160*N + 60*(N-1).
func DTMFDurationMs(digits string) int {
	n := len(digits)
	if n == 0 {
		return 0
	}
	return dtmfToneMs*n + dtmfGapMs*(n-1)
}
