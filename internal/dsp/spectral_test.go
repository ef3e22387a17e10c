// internal/dsp/spectral_test.go
package dsp

import (
	"math"
	"testing"
)

func createTestExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		AlarmBandMinHz:      3000,
		AlarmBandMaxHz:      4000,
		VoiceBandMaxHz:      2500,
		MinAmplitude:        120,
		MinDominance:        2.0,
		VoiceRejectionRatio: 1.5,
	}
}

func createTestExtractor(t *testing.T, cfg ExtractorConfig) *Extractor {
	t.Helper()
	e, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	return e
}

// createTestSpectrum builds a synthetic spectrum with a flat background
// magnitude in every bin.
func createTestSpectrum(background float64) *Spectrum {
	mags := make([]float64, testFFTSize/2)
	for i := range mags {
		mags[i] = background
	}
	return &Spectrum{
		Magnitudes: mags,
		SampleRate: testSampleRate,
		FFTSize:    testFFTSize,
	}
}

// setTone places a magnitude at the bin closest to the given frequency.
func setTone(spec *Spectrum, freqHz, magnitude float64) {
	spec.Magnitudes[spec.BinFor(freqHz)] = magnitude
}

func TestNewExtractor_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ExtractorConfig)
		wantErr error
	}{
		{"zero band min", func(c *ExtractorConfig) { c.AlarmBandMinHz = 0 }, ErrInvalidBand},
		{"inverted band", func(c *ExtractorConfig) { c.AlarmBandMinHz = 4000; c.AlarmBandMaxHz = 3000 }, ErrInvalidBand},
		{"voice band overlaps alarm band", func(c *ExtractorConfig) { c.VoiceBandMaxHz = 3500 }, ErrInvalidVoiceBand},
		{"negative voice band", func(c *ExtractorConfig) { c.VoiceBandMaxHz = -1 }, ErrInvalidVoiceBand},
		{"zero amplitude floor", func(c *ExtractorConfig) { c.MinAmplitude = 0 }, ErrInvalidMinAmplitude},
		{"dominance below one", func(c *ExtractorConfig) { c.MinDominance = 0.5 }, ErrInvalidMinDominance},
		{"negative voice ratio", func(c *ExtractorConfig) { c.VoiceRejectionRatio = -0.1 }, ErrInvalidVoiceRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createTestExtractorConfig()
			tt.mutate(&cfg)
			_, err := NewExtractor(cfg)
			if err != tt.wantErr {
				t.Errorf("expected %v, got: %v", tt.wantErr, err)
			}
		})
	}
}

// TestExtractor_DominantToneIsCandidate covers the canonical positive
// case: a 3.5kHz peak of 180 over a flat background of 40 yields a
// dominance of 4.5 and qualifies.
func TestExtractor_DominantToneIsCandidate(t *testing.T) {
	e := createTestExtractor(t, createTestExtractorConfig())

	spec := createTestSpectrum(40)
	setTone(spec, 3500, 180)

	feature, ok := e.Extract(spec)
	if !ok {
		t.Fatal("dominant in-band tone should be a candidate")
	}
	if feature.PeakMagnitude != 180 {
		t.Errorf("peak magnitude = %v, want 180", feature.PeakMagnitude)
	}
	if math.Abs(feature.PeakFrequencyHz-3500) > testSampleRate/testFFTSize {
		t.Errorf("peak frequency = %.1f, want ~3500", feature.PeakFrequencyHz)
	}
	if math.Abs(feature.BackgroundAverage-40) > 0.01 {
		t.Errorf("background average = %v, want ~40", feature.BackgroundAverage)
	}
	if math.Abs(feature.DominanceRatio-4.5) > 0.01 {
		t.Errorf("dominance = %v, want ~4.5", feature.DominanceRatio)
	}
}

// TestExtractor_WeakDominanceRejected covers a peak barely above the
// background: 100 over 90 is a dominance of ~1.11, well under the floor.
func TestExtractor_WeakDominanceRejected(t *testing.T) {
	cfg := createTestExtractorConfig()
	cfg.MinAmplitude = 50 // isolate the dominance check
	e := createTestExtractor(t, cfg)

	spec := createTestSpectrum(90)
	setTone(spec, 3500, 100)

	feature, ok := e.Extract(spec)
	if ok {
		t.Error("near-background peak should not be a candidate")
	}
	if feature.DominanceRatio >= cfg.MinDominance {
		t.Errorf("dominance = %v, expected below %v", feature.DominanceRatio, cfg.MinDominance)
	}
}

func TestExtractor_QuietPeakRejected(t *testing.T) {
	e := createTestExtractor(t, createTestExtractorConfig())

	// Strongly dominant but below the amplitude floor
	spec := createTestSpectrum(5)
	setTone(spec, 3500, 100)

	if _, ok := e.Extract(spec); ok {
		t.Error("peak below the amplitude floor should not be a candidate")
	}
}

func TestExtractor_VoiceRejection(t *testing.T) {
	e := createTestExtractor(t, createTestExtractorConfig())

	t.Run("loud voice band rejects", func(t *testing.T) {
		spec := createTestSpectrum(40)
		setTone(spec, 3500, 180)
		setTone(spec, 800, 200) // speech energy louder than the alarm peak

		feature, ok := e.Extract(spec)
		if ok {
			t.Error("speech-dominated window should not be a candidate")
		}
		if feature.VoiceBandPeak != 200 {
			t.Errorf("voice band peak = %v, want 200", feature.VoiceBandPeak)
		}
	})

	t.Run("quiet voice band accepts", func(t *testing.T) {
		spec := createTestSpectrum(40)
		setTone(spec, 3500, 180)
		setTone(spec, 800, 60)

		if _, ok := e.Extract(spec); !ok {
			t.Error("quiet voice band should not block a dominant alarm tone")
		}
	})

	t.Run("disabled voice check", func(t *testing.T) {
		cfg := createTestExtractorConfig()
		cfg.VoiceBandMaxHz = 0
		noVoice := createTestExtractor(t, cfg)

		spec := createTestSpectrum(40)
		setTone(spec, 3500, 180)
		setTone(spec, 800, 250)

		feature, ok := noVoice.Extract(spec)
		if !ok {
			t.Error("voice check disabled, loud low band must not reject")
		}
		if feature.VoiceBandPeak != 0 {
			t.Errorf("voice band peak = %v, want 0 when disabled", feature.VoiceBandPeak)
		}
	})
}

// TestExtractor_GuardBinsExcludeLeakage verifies spectral leakage just
// outside the band edges does not inflate the background estimate.
func TestExtractor_GuardBinsExcludeLeakage(t *testing.T) {
	e := createTestExtractor(t, createTestExtractorConfig())

	spec := createTestSpectrum(40)
	setTone(spec, 3500, 180)
	// Leakage skirts one bin outside each band edge
	loBin := spec.BinFor(3000)
	hiBin := spec.BinFor(4000)
	spec.Magnitudes[loBin-1] = 150
	spec.Magnitudes[hiBin+1] = 150

	feature, ok := e.Extract(spec)
	if !ok {
		t.Fatal("leakage at the band edges should not reject the candidate")
	}
	if math.Abs(feature.BackgroundAverage-40) > 0.01 {
		t.Errorf("background average = %v, leakage bins should be excluded", feature.BackgroundAverage)
	}
}

func TestExtractor_MalformedSpectrum(t *testing.T) {
	e := createTestExtractor(t, createTestExtractorConfig())

	tests := []struct {
		name string
		spec *Spectrum
	}{
		{"nil spectrum", nil},
		{"empty magnitudes", &Spectrum{SampleRate: testSampleRate, FFTSize: testFFTSize}},
		{"zero fft size", &Spectrum{Magnitudes: make([]float64, 64), SampleRate: testSampleRate}},
		{"zero sample rate", &Spectrum{Magnitudes: make([]float64, 64), FFTSize: 128}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feature, ok := e.Extract(tt.spec)
			if ok {
				t.Error("malformed spectrum must never be a candidate")
			}
			if feature != (BandFeature{}) {
				t.Errorf("malformed spectrum yielded a non-zero feature: %+v", feature)
			}
		})
	}
}

// TestExtractor_BandOutsideSpectrum exercises a band entirely above the
// bins a short spectrum carries.
func TestExtractor_BandOutsideSpectrum(t *testing.T) {
	e := createTestExtractor(t, createTestExtractorConfig())

	// 16 bins at 44.1kHz cover only the lowest few hundred Hz
	spec := &Spectrum{
		Magnitudes: make([]float64, 16),
		SampleRate: testSampleRate,
		FFTSize:    testFFTSize,
	}
	for i := range spec.Magnitudes {
		spec.Magnitudes[i] = 200
	}

	if _, ok := e.Extract(spec); ok {
		t.Error("band beyond the spectrum's bins must not produce a candidate")
	}
}

func TestExtractor_SilentBackground(t *testing.T) {
	e := createTestExtractor(t, createTestExtractorConfig())

	// Tone over total silence: dominance is bounded by epsilon, not Inf
	spec := createTestSpectrum(0)
	setTone(spec, 3500, 180)

	feature, ok := e.Extract(spec)
	if !ok {
		t.Error("tone over silence should be a candidate")
	}
	if math.IsInf(feature.DominanceRatio, 1) || math.IsNaN(feature.DominanceRatio) {
		t.Errorf("dominance = %v, want finite", feature.DominanceRatio)
	}
}
