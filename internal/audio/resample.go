package audio

import (
	"fmt"
	"math"
)

// sincHalfWidth is the number of sinc zero crossings on each side of
// the filter center. More crossings sharpen the transition band at the
// cost of filter length.
const sincHalfWidth = 10

// Resample converts PCM bytes from inRate to outRate, preserving the
// sample format. Equal rates return the input unchanged, byte for
// byte. Call it on whole utterances, not partial frames: the filter
// assumes silence outside the buffer.
func Resample(data []byte, f Format, inRate, outRate int) ([]byte, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inRate, outRate)
	}
	if inRate == outRate || len(data) == 0 {
		return data, nil
	}

	samples, err := DecodeSamples(data, f)
	if err != nil {
		return nil, err
	}
	return EncodeSamples(ResampleSamples(samples, inRate, outRate), f), nil
}

// ResampleSamples converts samples between rates with a polyphase
// windowed-sinc filter. The low-pass cutoff sits at the tighter of the
// two Nyquist limits, so downsampling is anti-aliased and upsampling
// is anti-imaged. Linear interpolation is not good enough here: it
// folds high frequencies back into the band the transcriber reads.
func ResampleSamples(in []float64, inRate, outRate int) []float64 {
	if inRate == outRate || len(in) == 0 {
		return in
	}

	g := gcd(inRate, outRate)
	up := outRate / g
	down := inRate / g
	taps := designFilter(up, down)
	center := len(taps) / 2

	outLen := (len(in)*up + down - 1) / down
	out := make([]float64, outLen)
	for n := 0; n < outLen; n++ {
		// Position in the conceptually upsampled stream, shifted by
		// the filter's group delay so output n lands on input time
		// n*down/up.
		pos := n*down + center
		acc := 0.0
		for k := pos % up; k < len(taps); k += up {
			idx := (pos - k) / up
			if idx < 0 {
				break
			}
			if idx >= len(in) {
				continue
			}
			acc += taps[k] * in[idx]
		}
		out[n] = acc
	}
	return out
}

// designFilter builds a Hamming-windowed sinc low-pass for one up/down
// polyphase stage. Taps are normalized per phase so a constant input
// maps to the same constant output.
func designFilter(up, down int) []float64 {
	m := up
	if down > m {
		m = down
	}
	n := 2*sincHalfWidth*m + 1
	center := n / 2
	cutoff := 1.0 / (2.0 * float64(m)) // cycles per sample at the upsampled rate

	taps := make([]float64, n)
	for i := range taps {
		x := float64(i - center)
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		taps[i] = 2 * cutoff * sinc(2*cutoff*x) * window
	}

	for phase := 0; phase < up; phase++ {
		sum := 0.0
		for k := phase; k < n; k += up {
			sum += taps[k]
		}
		if sum == 0 {
			continue
		}
		for k := phase; k < n; k += up {
			taps[k] /= sum
		}
	}
	return taps
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
