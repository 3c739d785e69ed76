package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/smc-go/cmd/smc-calibrate/internal/display"
	"github.com/XiaoConstantine/smc-go/pkg/storage"
)

func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs <database>",
		Short: "List the calibration runs stored in a database",
		Example: `  smc-calibrate runs runs.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewSQLiteStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No stored runs.")
				return nil
			}

			fmt.Printf("%s%sStored Runs%s\n", display.ColorBold, display.ColorBlue, display.ColorReset)
			fmt.Println(strings.Repeat("=", 50))
			for _, rec := range runs {
				steps, err := store.NumSteps(cmd.Context(), rec.RunID)
				if err != nil {
					return err
				}
				fmt.Printf("%s%s%s\n", display.ColorGreen, rec.RunID, display.ColorReset)
				fmt.Printf("  %sparameters:%s %s\n", display.ColorCyan, display.ColorReset, strings.Join(rec.ParamNames, ", "))
				fmt.Printf("  %sstages:%s %d | %screated:%s %s\n",
					display.ColorCyan, display.ColorReset, steps,
					display.ColorCyan, display.ColorReset, rec.CreatedAt)
			}
			return nil
		},
	}
	return cmd
}
