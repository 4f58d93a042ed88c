package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format identifies the wire encoding of PCM samples
type Format int

const (
	FormatFloat32 Format = iota // 32-bit IEEE float, little-endian
	FormatInt16                 // 16-bit signed PCM, little-endian
)

// ParseFormat maps a config string to a Format
func ParseFormat(s string) (Format, error) {
	switch s {
	case "float32":
		return FormatFloat32, nil
	case "int16":
		return FormatInt16, nil
	default:
		return FormatFloat32, fmt.Errorf("unknown sample format %q", s)
	}
}

func (f Format) String() string {
	if f == FormatInt16 {
		return "int16"
	}
	return "float32"
}

// WireName is the format label sent to clients in the ready config
func (f Format) WireName() string {
	if f == FormatInt16 {
		return "Int16Array"
	}
	return "Float32Array"
}

// BytesPerSample returns the sample width in bytes
func (f Format) BytesPerSample() int {
	if f == FormatInt16 {
		return 2
	}
	return 4
}

// clipLevel is the decoded magnitude at/above which a sample counts as
// clipped: full scale for floats, 32767/32768 for int16.
func (f Format) clipLevel() float64 {
	if f == FormatInt16 {
		return 32767.0 / 32768.0
	}
	return 1.0
}

// DecodeSamples converts little-endian PCM bytes into float64 samples.
// Int16 samples are scaled into [-1, 1); float32 samples pass through
// unchanged, including out-of-range values (the validator flags those).
func DecodeSamples(data []byte, f Format) ([]float64, error) {
	width := f.BytesPerSample()
	if len(data)%width != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of sample width %d", len(data), width)
	}

	samples := make([]float64, len(data)/width)
	switch f {
	case FormatInt16:
		for i := range samples {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			samples[i] = float64(v) / 32768.0
		}
	default:
		for i := range samples {
			bits := binary.LittleEndian.Uint32(data[i*4:])
			samples[i] = float64(math.Float32frombits(bits))
		}
	}
	return samples, nil
}

// EncodeInt16 converts float64 samples to little-endian int16 PCM,
// clamping to full scale
func EncodeInt16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(math.Round(s * 32767.0))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// EncodeFloat32 converts float64 samples to little-endian float32 PCM
func EncodeFloat32(samples []float64) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(s)))
	}
	return out
}

// EncodeSamples converts float64 samples into the given wire format
func EncodeSamples(samples []float64, f Format) []byte {
	if f == FormatInt16 {
		return EncodeInt16(samples)
	}
	return EncodeFloat32(samples)
}

// Analysis holds per-buffer signal measurements
type Analysis struct {
	Samples    int
	RMS        float64
	Peak       float64
	Clipped    int // samples at/above full scale
	OutOfRange int // samples outside [-1, 1]
}

// Analyze measures decoded samples in one pass
func Analyze(samples []float64, f Format) Analysis {
	a := Analysis{Samples: len(samples)}
	if len(samples) == 0 {
		return a
	}

	clip := f.clipLevel()
	var sumSquares float64
	for _, s := range samples {
		abs := math.Abs(s)
		sumSquares += s * s
		if abs > a.Peak {
			a.Peak = abs
		}
		if abs >= clip {
			a.Clipped++
		}
		if abs > 1.0 {
			a.OutOfRange++
		}
	}
	a.RMS = math.Sqrt(sumSquares / float64(len(samples)))
	return a
}

// CalculateRMS returns the root mean square of decoded samples
func CalculateRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// PeakAmplitude returns the largest absolute sample value
func PeakAmplitude(samples []float64) float64 {
	peak := 0.0
	for _, s := range samples {
		if abs := math.Abs(s); abs > peak {
			peak = abs
		}
	}
	return peak
}

// RemoveDCOffset subtracts the mean in place and returns the slice
func RemoveDCOffset(samples []float64) []float64 {
	if len(samples) == 0 {
		return samples
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	for i := range samples {
		samples[i] -= mean
	}
	return samples
}

// NormalizePeak scales samples in place so the peak reaches target.
// Buffers with peaks below the noise floor are left alone so silence is
// not amplified into noise.
func NormalizePeak(samples []float64, target float64) []float64 {
	const noiseFloor = 0.01

	peak := PeakAmplitude(samples)
	if peak < noiseFloor || peak == 0 {
		return samples
	}

	scale := target / peak
	for i := range samples {
		samples[i] *= scale
	}
	return samples
}
