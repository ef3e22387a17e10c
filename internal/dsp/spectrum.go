// internal/dsp/spectrum.go
// Package dsp implements the frequency-domain analysis used to decide
// whether a single audio window looks like an alarm tone.
package dsp

import (
	"errors"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

var (
	// ErrInvalidFFTSize indicates the FFT size must be a positive power of 2
	ErrInvalidFFTSize = errors.New("fft size must be a positive power of 2")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInsufficientSamples indicates not enough samples for the configured FFT size
	ErrInsufficientSamples = errors.New("insufficient samples for fft size")
)

// FullScaleMagnitude is the magnitude reported for a full-scale sine
// wave at a bin center. Magnitudes are scaled to a 0..255 range so that
// thresholds in the config file stay in a familiar byte-like scale.
const FullScaleMagnitude = 255.0

// Spectrum is one frequency-magnitude snapshot of an audio window.
// It is produced per analysis tick and discarded after use.
type Spectrum struct {
	// Magnitudes holds one magnitude per bin up to Nyquist (FFTSize/2 entries)
	Magnitudes []float64
	// SampleRate is the audio sample rate in Hz
	SampleRate float64
	// FFTSize is the transform size the magnitudes were computed with
	FFTSize int
}

// BinFor returns the bin index closest to the given frequency.
func (s *Spectrum) BinFor(freqHz float64) int {
	return int(math.Round(freqHz * float64(s.FFTSize) / s.SampleRate))
}

// BinFrequency returns the center frequency of the given bin in Hz.
func (s *Spectrum) BinFrequency(bin int) float64 {
	return float64(bin) * s.SampleRate / float64(s.FFTSize)
}

// Analyzer turns time-domain sample windows into magnitude spectra.
// A Hann window is applied before the transform to limit spectral
// leakage from the rectangular window edges.
type Analyzer struct {
	fftSize    int
	sampleRate float64
	window     []float64
	scratch    []float64
}

// NewAnalyzer creates an analyzer for the given FFT size and sample rate.
func NewAnalyzer(fftSize int, sampleRate float64) (*Analyzer, error) {
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		return nil, ErrInvalidFFTSize
	}
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}

	// Pre-compute the Hann window coefficients
	window := make([]float64, fftSize)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}

	return &Analyzer{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		window:     window,
		scratch:    make([]float64, fftSize),
	}, nil
}

// Spectrum computes the magnitude spectrum of one window of samples.
// Samples should be float32 normalized to -1.0 to 1.0 and must contain
// at least FFTSize elements; only the first FFTSize are used.
func (a *Analyzer) Spectrum(samples []float32) (*Spectrum, error) {
	if len(samples) < a.fftSize {
		return nil, ErrInsufficientSamples
	}

	for i := 0; i < a.fftSize; i++ {
		a.scratch[i] = float64(samples[i]) * a.window[i]
	}

	bins := fft.FFTReal(a.scratch)

	// Only bins below Nyquist carry information for real input.
	// The 2/N factor normalizes a full-scale sine to 1.0, the Hann
	// window halves coherent gain, hence the extra factor of 2.
	half := a.fftSize / 2
	norm := 4.0 / float64(a.fftSize) * FullScaleMagnitude
	mags := make([]float64, half)
	for i := 0; i < half; i++ {
		mags[i] = cmplxAbs(bins[i]) * norm
	}

	return &Spectrum{
		Magnitudes: mags,
		SampleRate: a.sampleRate,
		FFTSize:    a.fftSize,
	}, nil
}

// FFTSize returns the configured transform size
func (a *Analyzer) FFTSize() int {
	return a.fftSize
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
