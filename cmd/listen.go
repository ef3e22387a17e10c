// cmd/listen.go
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ebeecroft/alarmwatch/internal/audio"
	"github.com/ebeecroft/alarmwatch/internal/classify"
	"github.com/ebeecroft/alarmwatch/internal/config"
	"github.com/ebeecroft/alarmwatch/internal/detect"
	"github.com/ebeecroft/alarmwatch/internal/dsp"
	"github.com/ebeecroft/alarmwatch/internal/eventstream"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Monitor the microphone for alarm signals",
	RunE:  runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var source detect.AudioSource
	var capture *audio.Capture
	if settings.Backend == string(detect.BackendSpectral) {
		capture = audio.New(audio.Config{
			DeviceIndex: settings.DeviceIndex,
			SampleRate:  uint32(settings.SampleRate),
			Channels:    uint32(settings.Channels),
			BufferSize:  uint32(settings.BufferSize),
		})
		source = capture
	}

	detector, err := detect.New(detectorConfig(settings), source, logger)
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}

	var feed *eventstream.Server
	if settings.ListenAddr != "" {
		feed = eventstream.New(settings.ListenAddr, detector.Channel(), logger)
		if err := feed.Start(); err != nil {
			return fmt.Errorf("start event feed: %w", err)
		}
		logger.Info("event feed listening", "addr", feed.Addr())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := detector.Start(ctx); err != nil {
		return fmt.Errorf("start detector: %w", err)
	}
	logger.Info("monitoring started",
		"backend", settings.Backend,
		"preset", settings.Preset,
		"confirmations", settings.RequiredConfirmations,
		"max_misses", settings.MaxMisses)

	go func() {
		<-ctx.Done()
		_ = detector.Stop()
	}()

	for event := range detector.Events() {
		if feed != nil {
			feed.Publish(event)
		}
		logEvent(logger, event)
	}

	if feed != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := feed.Shutdown(shutdownCtx); err != nil {
			logger.Warn("event feed shutdown", "err", err)
		}
	}
	if capture != nil {
		if err := capture.Close(); err != nil {
			logger.Warn("release capture device", "err", err)
		}
	}
	logger.Info("monitoring stopped")
	return nil
}

func logEvent(logger *slog.Logger, event detect.Event) {
	switch event.Type {
	case detect.EventDetectionStarted:
		logger.Info("possible alarm, confirming")
	case detect.EventProgressUpdated:
		logger.Debug("confirmation progress", "percent", event.Progress)
	case detect.EventConfirmed:
		logger.Warn("ALARM CONFIRMED", "at", event.Timestamp.Format(time.RFC3339))
	case detect.EventCooldownTick:
		logger.Debug("cooldown", "remaining", event.Remaining.Round(time.Second))
	case detect.EventIdle:
		logger.Info("listening")
	case detect.EventError:
		logger.Error("detector failure", "kind", string(event.Kind), "message", event.Message)
	}
}

// detectorConfig maps validated settings onto the detector configuration.
func detectorConfig(s *config.Settings) detect.Config {
	return detect.Config{
		Backend:          detect.Backend(s.Backend),
		AnalysisInterval: time.Duration(s.AnalysisIntervalMs) * time.Millisecond,
		FFTSize:          s.FFTSize,
		SampleRate:       s.SampleRate,
		Extractor: dsp.ExtractorConfig{
			AlarmBandMinHz:      s.AlarmBandMinHz,
			AlarmBandMaxHz:      s.AlarmBandMaxHz,
			VoiceBandMaxHz:      s.VoiceBandMaxHz,
			MinAmplitude:        s.MinAmplitude,
			MinDominance:        s.MinDominance,
			VoiceRejectionRatio: s.VoiceRejectionRatio,
		},
		Adapter: classify.AdapterConfig{
			ConfidenceThreshold: s.ConfidenceThreshold,
			AlarmLabels:         s.AlarmLabels,
		},
		Machine: detect.MachineConfig{
			RequiredConfirmations: s.RequiredConfirmations,
			MaxMisses:             s.MaxMisses,
			CooldownDuration:      time.Duration(s.CooldownMs) * time.Millisecond,
		},
	}
}
