// internal/dsp/spectral.go
package dsp

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidBand indicates the alarm band edges are not ordered or not positive
	ErrInvalidBand = errors.New("alarm band must satisfy 0 < min < max")
	// ErrInvalidVoiceBand indicates the voice band must end below the alarm band
	ErrInvalidVoiceBand = errors.New("voice band must be non-negative and end below the alarm band")
	// ErrInvalidMinAmplitude indicates the amplitude floor must be positive
	ErrInvalidMinAmplitude = errors.New("minimum amplitude must be positive")
	// ErrInvalidMinDominance indicates the dominance floor must be at least 1
	ErrInvalidMinDominance = errors.New("minimum dominance ratio must be at least 1.0")
	// ErrInvalidVoiceRatio indicates the voice rejection ratio must be non-negative
	ErrInvalidVoiceRatio = errors.New("voice rejection ratio must be non-negative")
)

// backgroundEpsilon guards the dominance division against a silent background
const backgroundEpsilon = 1e-9

// defaultGuardBins is the number of bins excluded on each side of the
// alarm band when averaging the background, so that spectral leakage
// from the alarm tone itself does not inflate the background estimate.
const defaultGuardBins = 2

// ExtractorConfig holds configuration for the spectral feature extractor.
// All values should come from the application config file.
type ExtractorConfig struct {
	// AlarmBandMinHz is the lower edge of the alarm band (from config: alarm_band_min_hz)
	AlarmBandMinHz float64
	// AlarmBandMaxHz is the upper edge of the alarm band (from config: alarm_band_max_hz)
	AlarmBandMaxHz float64
	// VoiceBandMaxHz is the upper edge of the voice-rejection band, 0 disables
	// the voice check (from config: voice_band_max_hz)
	VoiceBandMaxHz float64
	// MinAmplitude is the peak magnitude floor (from config: min_amplitude)
	MinAmplitude float64
	// MinDominance is the peak/background ratio floor (from config: min_dominance)
	MinDominance float64
	// VoiceRejectionRatio is how much louder the alarm peak must be than the
	// voice-band peak (from config: voice_rejection_ratio)
	VoiceRejectionRatio float64
	// GuardBins overrides the band-edge guard region width (0 = default)
	GuardBins int
}

// BandFeature is the per-tick diagnostic derived from one spectrum.
// Immutable, discarded after use.
type BandFeature struct {
	// PeakFrequencyHz is the frequency of the loudest bin in the alarm band
	PeakFrequencyHz float64
	// PeakMagnitude is the magnitude of that bin
	PeakMagnitude float64
	// BackgroundAverage is the mean magnitude of bins outside the alarm band
	BackgroundAverage float64
	// DominanceRatio is PeakMagnitude / max(BackgroundAverage, epsilon)
	DominanceRatio float64
	// VoiceBandPeak is the loudest bin in the voice band (0 when disabled)
	VoiceBandPeak float64
}

// Extractor decides whether one magnitude spectrum looks like an alarm
// tone. A fire alarm is a narrow-band, persistently loud tone, so a
// candidate must dominate both the general background and the voice
// band, which rejects broadband noise and speech respectively.
type Extractor struct {
	config    ExtractorConfig
	guardBins int
}

// NewExtractor creates a spectral feature extractor with the given configuration.
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if cfg.AlarmBandMinHz <= 0 || cfg.AlarmBandMinHz >= cfg.AlarmBandMaxHz {
		return nil, ErrInvalidBand
	}
	if cfg.VoiceBandMaxHz < 0 || cfg.VoiceBandMaxHz >= cfg.AlarmBandMinHz {
		return nil, ErrInvalidVoiceBand
	}
	if cfg.MinAmplitude <= 0 {
		return nil, ErrInvalidMinAmplitude
	}
	if cfg.MinDominance < 1 {
		return nil, ErrInvalidMinDominance
	}
	if cfg.VoiceRejectionRatio < 0 {
		return nil, ErrInvalidVoiceRatio
	}

	guard := cfg.GuardBins
	if guard <= 0 {
		guard = defaultGuardBins
	}

	return &Extractor{config: cfg, guardBins: guard}, nil
}

// Extract computes the band feature for one spectrum and reports whether
// it qualifies as an alarm candidate. A nil or malformed spectrum is a
// non-candidate, never an error: a single bad snapshot must only count
// as a miss.
func (e *Extractor) Extract(spec *Spectrum) (BandFeature, bool) {
	if spec == nil || len(spec.Magnitudes) == 0 || spec.FFTSize <= 0 || spec.SampleRate <= 0 {
		return BandFeature{}, false
	}

	loBin := clampBin(spec.BinFor(e.config.AlarmBandMinHz), len(spec.Magnitudes))
	hiBin := clampBin(spec.BinFor(e.config.AlarmBandMaxHz), len(spec.Magnitudes))
	if loBin >= hiBin {
		return BandFeature{}, false
	}

	// Peak within the alarm band
	peakBin := loBin
	peak := spec.Magnitudes[loBin]
	for i := loBin + 1; i <= hiBin; i++ {
		if spec.Magnitudes[i] > peak {
			peak = spec.Magnitudes[i]
			peakBin = i
		}
	}

	// Background: everything outside the band plus its guard region
	guardLo := loBin - e.guardBins
	guardHi := hiBin + e.guardBins
	background := make([]float64, 0, len(spec.Magnitudes))
	for i, m := range spec.Magnitudes {
		if i >= guardLo && i <= guardHi {
			continue
		}
		background = append(background, m)
	}
	backgroundAvg := 0.0
	if len(background) > 0 {
		backgroundAvg = stat.Mean(background, nil)
	}

	dominance := peak / max(backgroundAvg, backgroundEpsilon)

	feature := BandFeature{
		PeakFrequencyHz:   spec.BinFrequency(peakBin),
		PeakMagnitude:     peak,
		BackgroundAverage: backgroundAvg,
		DominanceRatio:    dominance,
	}

	// Voice rejection: a speech-dominated window has comparable or more
	// energy below the alarm band than inside it.
	voiceOK := true
	if e.config.VoiceBandMaxHz > 0 {
		voiceBin := clampBin(spec.BinFor(e.config.VoiceBandMaxHz), len(spec.Magnitudes))
		for i := 0; i <= voiceBin; i++ {
			if spec.Magnitudes[i] > feature.VoiceBandPeak {
				feature.VoiceBandPeak = spec.Magnitudes[i]
			}
		}
		voiceOK = peak >= feature.VoiceBandPeak*e.config.VoiceRejectionRatio
	}

	isCandidate := peak >= e.config.MinAmplitude &&
		dominance >= e.config.MinDominance &&
		voiceOK

	return feature, isCandidate
}

// Config returns the current configuration
func (e *Extractor) Config() ExtractorConfig {
	return e.config
}

func clampBin(bin, n int) int {
	if bin < 0 {
		return 0
	}
	if bin >= n {
		return n - 1
	}
	return bin
}
