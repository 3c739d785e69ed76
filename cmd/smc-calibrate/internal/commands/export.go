package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/smc-go/cmd/smc-calibrate/internal/display"
	"github.com/XiaoConstantine/smc-go/pkg/storage"
)

func NewExportCommand() *cobra.Command {
	var stage int

	cmd := &cobra.Command{
		Use:   "export <database> <run-id> <output.parquet>",
		Short: "Export a stored population snapshot as Parquet",
		Long: `Export one stage of a stored calibration run as a Parquet file, one
float64 column per parameter plus the log-likelihood and log-weight columns.
By default the last stage (the posterior) is exported.`,
		Example: `  # Export the posterior
  smc-calibrate export runs.db 3f8a... posterior.parquet

  # Export an intermediate tempering stage
  smc-calibrate export runs.db 3f8a... stage2.parquet --stage 2`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, runID, outPath := args[0], args[1], args[2]

			store, err := storage.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			var names []string
			for _, rec := range runs {
				if rec.RunID == runID {
					names = rec.ParamNames
					break
				}
			}
			if names == nil {
				return fmt.Errorf("run %q not found in %s", runID, dbPath)
			}

			target := stage
			if target < 0 {
				count, err := store.NumSteps(cmd.Context(), runID)
				if err != nil {
					return err
				}
				target = count - 1
			}

			step, err := store.LoadStep(cmd.Context(), runID, target)
			if err != nil {
				return err
			}
			if err := storage.WriteParquet(outPath, names, step); err != nil {
				return err
			}

			fmt.Printf("%sExported stage %d of run %s to %s%s\n",
				display.ColorGreen, target, runID, outPath, display.ColorReset)
			return nil
		},
	}

	cmd.Flags().IntVar(&stage, "stage", -1, "Stage to export (-1 = last)")
	return cmd
}
