// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	AppName       = "alarmwatch"
	ConfigType    = "yaml"
	DefaultConfig = `# Alarmwatch Configuration

# Audio device settings
device_index: -1          # -1 for default capture device
sample_rate: 44100        # Audio sample rate in Hz
channels: 1               # Number of channels (1=mono)
buffer_size: 1024         # Audio frames per capture callback

# Analysis
backend: "spectral"       # Detection backend: "spectral" or "classifier"
fft_size: 2048            # FFT window size (power of 2)
analysis_interval_ms: 100 # Milliseconds between analysis ticks

# Spectral backend
alarm_band_min_hz: 3000   # Lower edge of the alarm frequency band
alarm_band_max_hz: 4000   # Upper edge of the alarm frequency band
voice_band_max_hz: 2500   # Upper edge of the voice-rejection band (0 disables)
min_amplitude: 120        # Minimum peak magnitude to consider a candidate
min_dominance: 0          # Peak/background ratio floor (0 = take from preset)
voice_rejection_ratio: 1.2 # Alarm peak must exceed voice-band peak by this factor

# Classifier backend
confidence_threshold: 0   # Minimum classifier confidence (0 = take from preset)
alarm_labels:             # Labels counted as alarm categories (substring match)
  - "Smoke detector"
  - "Fire alarm"
  - "Siren"
  - "Civil defense siren"
  - "Buzzer"

# Confirmation / hysteresis
preset: "balanced"          # Tuning preset: relaxed, balanced, strict
required_confirmations: 0   # Consecutive candidate ticks to confirm (0 = preset)
max_misses: 0               # Tolerated consecutive misses while detecting (0 = preset)

# Timing
cooldown_ms: 30000        # Re-trigger suppression window after confirmation

# Event feed
listen_addr: ""           # Websocket event feed address, e.g. ":8574" (empty disables)

# Output
debug: false              # Enable debug output
`
)

// Preset names. Each maps to a threshold/hysteresis tuning; any knob
// set explicitly in the config file overrides the preset value.
const (
	PresetRelaxed  = "relaxed"
	PresetBalanced = "balanced"
	PresetStrict   = "strict"
)

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int     `mapstructure:"device_index"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Channels    int     `mapstructure:"channels"`
	BufferSize  int     `mapstructure:"buffer_size"`

	// Analysis
	Backend            string `mapstructure:"backend"`
	FFTSize            int    `mapstructure:"fft_size"`
	AnalysisIntervalMs int    `mapstructure:"analysis_interval_ms"`

	// Spectral backend
	AlarmBandMinHz      float64 `mapstructure:"alarm_band_min_hz"`
	AlarmBandMaxHz      float64 `mapstructure:"alarm_band_max_hz"`
	VoiceBandMaxHz      float64 `mapstructure:"voice_band_max_hz"`
	MinAmplitude        float64 `mapstructure:"min_amplitude"`
	MinDominance        float64 `mapstructure:"min_dominance"`
	VoiceRejectionRatio float64 `mapstructure:"voice_rejection_ratio"`

	// Classifier backend
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	AlarmLabels         []string `mapstructure:"alarm_labels"`

	// Confirmation / hysteresis
	Preset                string `mapstructure:"preset"`
	RequiredConfirmations int    `mapstructure:"required_confirmations"`
	MaxMisses             int    `mapstructure:"max_misses"`

	// Timing
	CooldownMs int `mapstructure:"cooldown_ms"`

	// Event feed
	ListenAddr string `mapstructure:"listen_addr"`

	// Output
	Debug bool `mapstructure:"debug"`
}

// preset is a named tuning of the confirmation and threshold knobs.
type preset struct {
	requiredConfirmations int
	maxMisses             int
	minDominance          float64
	confidenceThreshold   float64
}

// presets holds the recognized tunings. Relaxed confirms quickly and
// tolerates gaps (noisy environments, favors recall); strict demands
// sustained evidence (quiet environments, favors precision).
var presets = map[string]preset{
	PresetRelaxed:  {requiredConfirmations: 5, maxMisses: 5, minDominance: 1.5, confidenceThreshold: 0.5},
	PresetBalanced: {requiredConfirmations: 10, maxMisses: 3, minDominance: 2.0, confidenceThreshold: 0.6},
	PresetStrict:   {requiredConfirmations: 15, maxMisses: 2, minDominance: 3.0, confidenceThreshold: 0.7},
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/alarmwatch/
func Init() error {
	// Set defaults
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 44100)
	viper.SetDefault("channels", 1)
	viper.SetDefault("buffer_size", 1024)
	viper.SetDefault("backend", "spectral")
	viper.SetDefault("fft_size", 2048)
	viper.SetDefault("analysis_interval_ms", 100)
	viper.SetDefault("alarm_band_min_hz", 3000)
	viper.SetDefault("alarm_band_max_hz", 4000)
	viper.SetDefault("voice_band_max_hz", 2500)
	viper.SetDefault("min_amplitude", 120)
	viper.SetDefault("min_dominance", 0)
	viper.SetDefault("voice_rejection_ratio", 1.2)
	viper.SetDefault("confidence_threshold", 0)
	viper.SetDefault("alarm_labels", []string{
		"Smoke detector", "Fire alarm", "Siren", "Civil defense siren", "Buzzer",
	})
	viper.SetDefault("preset", PresetBalanced)
	viper.SetDefault("required_confirmations", 0)
	viper.SetDefault("max_misses", 0)
	viper.SetDefault("cooldown_ms", 30000)
	viper.SetDefault("listen_addr", "")
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings with the preset applied and validated.
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.ApplyPreset(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// ApplyPreset fills any tuning knob left at zero from the named preset.
// Explicit non-zero settings always win over the preset.
func (s *Settings) ApplyPreset() error {
	p, ok := presets[strings.ToLower(s.Preset)]
	if !ok {
		return fmt.Errorf("unknown preset %q (want relaxed, balanced or strict)", s.Preset)
	}
	if s.RequiredConfirmations == 0 {
		s.RequiredConfirmations = p.requiredConfirmations
	}
	if s.MaxMisses == 0 {
		s.MaxMisses = p.maxMisses
	}
	if s.MinDominance == 0 {
		s.MinDominance = p.minDominance
	}
	if s.ConfidenceThreshold == 0 {
		s.ConfidenceThreshold = p.confidenceThreshold
	}
	return nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio device settings
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", s.Channels))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}
	if s.BufferSize&(s.BufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("buffer_size should be a power of 2, got %d", s.BufferSize))
	}

	// Analysis
	if s.Backend != "spectral" && s.Backend != "classifier" {
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", "spectral", "classifier", s.Backend))
	}
	if s.FFTSize < 256 || s.FFTSize > 16384 {
		errs = append(errs, fmt.Errorf("fft_size must be between 256 and 16384, got %d", s.FFTSize))
	}
	if s.FFTSize&(s.FFTSize-1) != 0 {
		errs = append(errs, fmt.Errorf("fft_size should be a power of 2, got %d", s.FFTSize))
	}
	if s.AnalysisIntervalMs < 10 || s.AnalysisIntervalMs > 5000 {
		errs = append(errs, fmt.Errorf("analysis_interval_ms must be between 10 and 5000, got %d", s.AnalysisIntervalMs))
	}

	// Spectral backend
	nyquist := s.SampleRate / 2
	if s.AlarmBandMinHz <= 0 || s.AlarmBandMinHz >= s.AlarmBandMaxHz {
		errs = append(errs, fmt.Errorf("alarm_band_min_hz must be positive and below alarm_band_max_hz, got %v..%v", s.AlarmBandMinHz, s.AlarmBandMaxHz))
	}
	if s.AlarmBandMaxHz >= nyquist {
		errs = append(errs, fmt.Errorf("alarm_band_max_hz (%v Hz) must be less than Nyquist frequency (%v Hz)", s.AlarmBandMaxHz, nyquist))
	}
	if s.VoiceBandMaxHz < 0 || s.VoiceBandMaxHz >= s.AlarmBandMinHz {
		errs = append(errs, fmt.Errorf("voice_band_max_hz must be non-negative and below alarm_band_min_hz, got %v", s.VoiceBandMaxHz))
	}
	if s.MinAmplitude <= 0 {
		errs = append(errs, fmt.Errorf("min_amplitude must be positive, got %v", s.MinAmplitude))
	}
	if s.MinDominance < 1 {
		errs = append(errs, fmt.Errorf("min_dominance must be at least 1.0, got %v", s.MinDominance))
	}
	if s.VoiceRejectionRatio < 0 {
		errs = append(errs, fmt.Errorf("voice_rejection_ratio must be non-negative, got %v", s.VoiceRejectionRatio))
	}

	// Classifier backend
	if s.ConfidenceThreshold <= 0 || s.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be between 0.0 and 1.0, got %v", s.ConfidenceThreshold))
	}
	if s.Backend == "classifier" && len(s.AlarmLabels) == 0 {
		errs = append(errs, errors.New("alarm_labels must not be empty with the classifier backend"))
	}

	// Confirmation / hysteresis
	if s.RequiredConfirmations < 1 || s.RequiredConfirmations > 1000 {
		errs = append(errs, fmt.Errorf("required_confirmations must be between 1 and 1000, got %d", s.RequiredConfirmations))
	}
	if s.MaxMisses < 1 || s.MaxMisses > 100 {
		errs = append(errs, fmt.Errorf("max_misses must be between 1 and 100, got %d", s.MaxMisses))
	}

	// Timing
	if s.CooldownMs < 1000 || s.CooldownMs > 3600000 {
		errs = append(errs, fmt.Errorf("cooldown_ms must be between 1000 and 3600000, got %d", s.CooldownMs))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
