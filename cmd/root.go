// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ebeecroft/alarmwatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "alarmwatch",
	Short: "Emergency alarm detector for live microphone audio",
	Long: `Monitors a microphone stream for emergency acoustic signals such as
fire alarms and emits one debounced confirmation event per occurrence.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().StringP("backend", "b", "spectral", "detection backend (spectral or classifier)")
	rootCmd.PersistentFlags().StringP("preset", "p", "balanced", "tuning preset (relaxed, balanced, strict)")
	rootCmd.PersistentFlags().IntP("interval", "i", 100, "analysis interval in milliseconds")
	rootCmd.PersistentFlags().StringP("addr", "a", "", "websocket event feed address (empty disables)")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("preset", rootCmd.PersistentFlags().Lookup("preset"))
	viper.BindPFlag("analysis_interval_ms", rootCmd.PersistentFlags().Lookup("interval"))
	viper.BindPFlag("listen_addr", rootCmd.PersistentFlags().Lookup("addr"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}
