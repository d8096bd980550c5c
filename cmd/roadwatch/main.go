package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roadwatch/pkg/config"
	"roadwatch/pkg/logger"
)

// overrides are command-line values applied on top of the loaded config.
type overrides struct {
	url           string
	detector      string
	maxFPS        float64
	classes       string
	confidence    float64
	metersPerUnit float64
	saveFrames    bool
	logLevel      string
}

var (
	configPath string
	flags      overrides
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roadwatch",
		Short: "Roadwatch - vehicle speed detection on live video streams",
		Long: `Reads frames from an RTSP/HTTP stream or video file, sends them to a
tracking detector and estimates the speed and heading of every tracked
vehicle. Results are written to disk and optionally to SQLite, Redis,
MQTT and a websocket display.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to YAML config")
	rootCmd.PersistentFlags().StringVar(&flags.url, "url", "", "Stream URL or video file (overrides stream.url)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(historyCmd())
	return rootCmd
}

// loadConfig reads the config file, applies flag overrides that were set
// explicitly and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadStreamConfig is loadConfig for commands that only open the stream.
func loadStreamConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStream(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.Stream.URL = flags.url
	}
	if changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if changed("detector") {
		cfg.Detection.Endpoint = flags.detector
	}
	if changed("max-fps") {
		cfg.Detection.MaxFPS = flags.maxFPS
	}
	if changed("classes") {
		var classes []string
		for _, class := range strings.Split(flags.classes, ",") {
			if class = strings.TrimSpace(class); class != "" {
				classes = append(classes, class)
			}
		}
		cfg.Detection.VehicleClasses = classes
	}
	if changed("confidence") {
		cfg.Detection.ConfidenceThreshold = flags.confidence
	}
	if changed("meters-per-unit") {
		cfg.Kinematics.MetersPerUnit = flags.metersPerUnit
	}
	if changed("save-frames") {
		cfg.Output.SaveFrames = flags.saveFrames
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}
