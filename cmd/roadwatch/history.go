package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/infrastructure/storage/sqlite"
	"roadwatch/pkg/config"
	"roadwatch/pkg/utils"
)

func historyCmd() *cobra.Command {
	var runID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent frame results stored in SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = flags.logLevel
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := sqlite.Open(cfg.SQLite.Path, log)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.Recent(context.Background(), domain.RunID(runID), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FRAME\tTIME\tVEHICLES\tPROCESSING\tTRACK\tCLASS\tKPH\tDIRECTION")
			for _, r := range results {
				if len(r.Vehicles) == 0 {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\t-\t-\t-\t-\n",
						r.FrameNumber, r.Timestamp.Format("15:04:05.000"), r.VehicleCount, utils.FormatDuration(r.ProcessingTime))
					continue
				}
				for _, v := range r.Vehicles {
					speed := "-"
					if v.Kinematics.SpeedKPH != nil {
						speed = fmt.Sprintf("%.1f", *v.Kinematics.SpeedKPH)
					}
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
						r.FrameNumber, r.Timestamp.Format("15:04:05.000"), r.VehicleCount, utils.FormatDuration(r.ProcessingTime),
						v.TrackID, v.Class, speed, v.Kinematics.Direction)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id to show")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of frames")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}
