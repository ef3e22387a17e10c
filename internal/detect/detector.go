// internal/detect/detector.go
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebeecroft/alarmwatch/internal/classify"
	"github.com/ebeecroft/alarmwatch/internal/dsp"
	"github.com/ebeecroft/alarmwatch/internal/recovery"
)

var (
	// ErrPermissionDenied indicates the audio source was refused by the user
	ErrPermissionDenied = errors.New("audio source permission denied")
	// ErrDeviceUnavailable indicates no usable capture device is present
	ErrDeviceUnavailable = errors.New("no capture device available")
	// ErrInitialization indicates the detection backend failed to initialize
	ErrInitialization = errors.New("detection backend initialization failed")
	// ErrAlreadyRunning indicates the detector is already started
	ErrAlreadyRunning = errors.New("detector already running")
	// ErrNotRunning indicates the detector is not started
	ErrNotRunning = errors.New("detector not running")
	// ErrInvalidBackend indicates an unrecognized backend name
	ErrInvalidBackend = errors.New("backend must be spectral or classifier")
	// ErrSourceRequired indicates the spectral backend needs an audio source
	ErrSourceRequired = errors.New("audio source is required for the spectral backend")
)

// Backend selects the feature-extraction strategy.
type Backend string

const (
	// BackendSpectral extracts candidates from FFT magnitude spectra
	BackendSpectral Backend = "spectral"
	// BackendClassifier consumes an external label classifier's results
	BackendClassifier Backend = "classifier"
)

// AudioSource supplies fixed-size audio buffers at a stated sample
// rate and owns the microphone lifecycle. Implemented by
// internal/audio; consumed, never managed, beyond Start/Stop.
type AudioSource interface {
	Start(ctx context.Context) error
	Stop() error
	Samples() <-chan []float32
}

// Config holds configuration for the detector.
// All values should come from the application config file.
type Config struct {
	// Backend selects the feature-extraction strategy (from config: backend)
	Backend Backend
	// AnalysisInterval is the tick cadence (from config: analysis_interval_ms)
	AnalysisInterval time.Duration
	// FFTSize is the spectral window size (from config: fft_size)
	FFTSize int
	// SampleRate is the audio sample rate in Hz (from config: sample_rate)
	SampleRate float64
	// Extractor configures the spectral backend
	Extractor dsp.ExtractorConfig
	// Adapter configures the classifier backend
	Adapter classify.AdapterConfig
	// Machine configures confirmation and cooldown
	Machine MachineConfig
	// EventBuffer is the event channel capacity (0 = default)
	EventBuffer int
}

// Status is a read-only snapshot of the session for synchronous
// queries. Consumers read snapshots; they never mutate session fields.
type Status struct {
	State             State
	Progress          int
	CooldownRemaining time.Duration
}

// Detector wires an audio source or external classifier through the
// configured backend into the confirmation state machine and publishes
// the resulting events.
//
// A single goroutine owns the tick loop: sample ingestion and analysis
// ticks are interleaved but strictly sequential, so the machine is
// never invoked concurrently.
type Detector struct {
	config    Config
	source    AudioSource
	machine   *Machine
	analyzer  *dsp.Analyzer
	extractor *dsp.Extractor
	adapter   *classify.Adapter
	channel   *Channel
	log       *slog.Logger

	mu      sync.Mutex
	window  []float32
	filled  int
	latest  *classify.Result
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a detector. The audio source may be nil for the
// classifier backend, where samples are analyzed externally and only
// (label, confidence) results reach the detector.
func New(cfg Config, source AudioSource, logger *slog.Logger) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	machine, err := NewMachine(cfg.Machine)
	if err != nil {
		return nil, err
	}

	d := &Detector{
		config:  cfg,
		source:  source,
		machine: machine,
		log:     logger,
	}
	d.channel = NewChannel(cfg.EventBuffer, d.Reset)
	machine.SetSink(d.channel.publish)

	switch cfg.Backend {
	case BackendSpectral:
		if source == nil {
			return nil, ErrSourceRequired
		}
		d.analyzer, err = dsp.NewAnalyzer(cfg.FFTSize, cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
		}
		d.extractor, err = dsp.NewExtractor(cfg.Extractor)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
		}
		d.window = make([]float32, cfg.FFTSize)
	case BackendClassifier:
		d.adapter, err = classify.NewAdapter(cfg.Adapter)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
		}
	default:
		return nil, ErrInvalidBackend
	}

	return d, nil
}

// Channel returns the consumer event surface.
func (d *Detector) Channel() *Channel {
	return d.channel
}

// Events returns the ordered event stream. Closed when the detector stops.
func (d *Detector) Events() <-chan Event {
	return d.channel.Events()
}

// Start acquires the audio source and begins the tick loop. Source
// acquisition failures move the session into the matching terminal
// state before the error is returned.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()

	if d.source != nil {
		if err := d.source.Start(ctx); err != nil {
			d.mu.Lock()
			d.running = false
			d.machine.Fail(failKind(err), err.Error())
			d.mu.Unlock()
			return fmt.Errorf("start audio source: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go func() {
		defer recovery.HandlePanicFunc(func() {
			close(done)
		})
		d.run(loopCtx)
		close(done)
	}()

	return nil
}

// run is the single tick loop. Sample ingestion and analysis ticks are
// both handled here, so ticks run to completion one at a time.
func (d *Detector) run(ctx context.Context) {
	ticker := time.NewTicker(d.config.AnalysisInterval)
	defer ticker.Stop()

	var samples <-chan []float32
	if d.source != nil {
		samples = d.source.Samples()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			d.ingest(buf)
		case <-ticker.C:
			d.tick()
		}
	}
}

// ingest slides new samples into the analysis window, keeping the most
// recent FFTSize samples.
func (d *Detector) ingest(buf []float32) {
	if d.window == nil || len(buf) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(buf) >= len(d.window) {
		copy(d.window, buf[len(buf)-len(d.window):])
		d.filled = len(d.window)
		return
	}
	keep := len(d.window) - len(buf)
	copy(d.window, d.window[len(buf):])
	copy(d.window[keep:], buf)
	if d.filled < len(d.window) {
		d.filled += len(buf)
		if d.filled > len(d.window) {
			d.filled = len(d.window)
		}
	}
}

// tick runs one analysis step. Per-tick extraction failures are
// absorbed as misses so a single bad buffer can never wedge the loop.
func (d *Detector) tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	candidate := false
	switch d.config.Backend {
	case BackendSpectral:
		candidate = d.spectralCandidate()
	case BackendClassifier:
		candidate = d.adapter.Evaluate(d.latest)
	}
	d.machine.Tick(candidate)
}

func (d *Detector) spectralCandidate() bool {
	if d.filled < len(d.window) {
		return false
	}
	spectrum, err := d.analyzer.Spectrum(d.window)
	if err != nil {
		// Malformed window: count as a miss, never propagate
		d.log.Debug("spectrum analysis failed", "err", err)
		return false
	}
	feature, ok := d.extractor.Extract(spectrum)
	if ok {
		d.log.Debug("alarm candidate",
			"peak_hz", feature.PeakFrequencyHz,
			"peak", feature.PeakMagnitude,
			"dominance", feature.DominanceRatio)
	}
	return ok
}

// SubmitClassification hands the latest external classifier result to
// the detector. Safe to call from any goroutine; the adapter ignores
// results it has already counted.
func (d *Detector) SubmitClassification(r classify.Result) {
	d.mu.Lock()
	d.latest = &r
	d.mu.Unlock()
}

// Reset returns the session to Idle immediately, regardless of current
// state, including mid-cooldown. Idempotent.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.machine.Reset()
	if d.adapter != nil {
		d.adapter.Reset()
	}
}

// Status returns a snapshot of the session state.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		State:             d.machine.State(),
		Progress:          d.machine.Progress(),
		CooldownRemaining: d.machine.CooldownRemaining(),
	}
}

// Fail moves the detector into a terminal failure state, for callers
// that learn about device or classifier failures out of band.
func (d *Detector) Fail(kind ErrorKind, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.machine.Fail(kind, message)
}

// Stop synchronously halts the tick loop, discards the current session
// and releases the audio source. Release failures are logged and
// non-fatal. The event channel is closed once the loop has stopped.
func (d *Detector) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.running = false
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if d.source != nil {
		if err := d.source.Stop(); err != nil {
			d.log.Warn("release audio source", "err", err)
		}
	}

	// No partial state survives a stop
	d.mu.Lock()
	d.machine.session = Session{State: StateIdle}
	d.latest = nil
	d.filled = 0
	if d.adapter != nil {
		d.adapter.Reset()
	}
	d.mu.Unlock()

	d.channel.close()
	return nil
}

// failKind maps a source acquisition error to the error taxonomy.
func failKind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	default:
		return KindInitialization
	}
}
