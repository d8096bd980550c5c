package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"roadwatch/internal/core/services"
	"roadwatch/internal/infrastructure/capture"
	"roadwatch/internal/infrastructure/storage/filestore"
	"roadwatch/pkg/clock"
)

func probeCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Test a stream connection and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadStreamConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			endpoint, err := streamEndpoint(cfg)
			if err != nil {
				return err
			}
			stream := services.NewStreamManager(endpoint, capture.NewGocvOpener(log), clock.Real{}, nil, log)
			report := services.NewConnectionTester(cfg.Stream.URL, stream, cfg.Probe.Duration, clock.Real{}, log).Probe(ctx)

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if save {
				files, err := filestore.New(cfg.Probe.ReportDir, cfg.Detection.JPEGQuality)
				if err != nil {
					return err
				}
				path, err := files.SaveProbeReport(report)
				if err != nil {
					return err
				}
				log.Infow("Saved connection report", "path", path)
			}

			if !report.Success {
				return fmt.Errorf("connection test failed: %s", report.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", true, "Save the report as JSON under probe.report_dir")
	return cmd
}
