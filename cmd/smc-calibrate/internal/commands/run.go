package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/smc-go/cmd/smc-calibrate/internal/display"
	"github.com/XiaoConstantine/smc-go/cmd/smc-calibrate/internal/models"
	"github.com/XiaoConstantine/smc-go/pkg/config"
	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/logging"
	"github.com/XiaoConstantine/smc-go/pkg/smc"
	"github.com/XiaoConstantine/smc-go/pkg/storage"
)

func NewRunCommand() *cobra.Command {
	var modelName string
	var xValues string
	var verbose bool
	var logFile string

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run a calibration defined in a YAML file",
		Long: `Run a full SMC calibration: particles are drawn from the configured
priors, tempered from the prior to the posterior, and the posterior summary
is printed. Every tempering stage is persisted when the config names a
SQLite output, and the final population is exported when it names a Parquet
output.`,
		Example: `  # Calibrate a straight line against measured data
  smc-calibrate run spring.yaml --model linear --x "0,0.5,1,1.5,2"

  # Exponential decay with verbose stage logging kept in a file
  smc-calibrate run decay.yaml --model exponential --x "0,1,2,3" --verbose --log-file decay.log`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose || logFile != "" {
				severity := logging.INFO
				var outputs []logging.Output
				if verbose {
					severity = logging.DEBUG
					outputs = append(outputs, logging.NewConsoleOutput(true))
				}
				if logFile != "" {
					fileOut, err := logging.NewFileOutput(logFile)
					if err != nil {
						return fmt.Errorf("opening log file %q: %w", logFile, err)
					}
					defer fileOut.Close()
					outputs = append(outputs, fileOut)
				}
				logging.SetLogger(logging.NewLogger(logging.Config{
					Severity: severity,
					Outputs:  outputs,
				}))
			}

			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			if _, ok := models.GetInfo(modelName); !ok {
				fmt.Printf("%sError:%s Unknown model '%s'\n\n", display.ColorRed, display.ColorReset, modelName)
				fmt.Println("Available models:")
				for _, name := range models.ListAll() {
					info, _ := models.GetInfo(name)
					fmt.Printf("  - %s: %s\n", name, info.Description)
				}
				return fmt.Errorf("unknown model %q", modelName)
			}

			x, err := parseGrid(xValues, len(cfg.Observed))
			if err != nil {
				return err
			}

			model, err := models.Get(modelName, x)
			if err != nil {
				return err
			}
			priors, err := cfg.BuildPriors()
			if err != nil {
				return err
			}
			like, err := cfg.BuildLikelihood()
			if err != nil {
				return err
			}

			info, _ := models.GetInfo(modelName)
			fmt.Printf("%s%sRunning calibration%s\n", display.ColorBold, display.ColorBlue, display.ColorReset)
			fmt.Println(strings.Repeat("=", 50))
			fmt.Printf("%sModel:%s %s (%s)\n", display.ColorCyan, display.ColorReset, info.Name, info.Description)
			fmt.Printf("%sParameters:%s %s\n", display.ColorCyan, display.ColorReset, strings.Join(cfg.ParamNames(), ", "))
			fmt.Printf("%sParticles:%s %d | %sWorkers:%s %d\n\n",
				display.ColorCyan, display.ColorReset, cfg.Sampler.NumParticles,
				display.ColorCyan, display.ColorReset, cfg.Workers())

			history, err := smc.RunGroup(cmd.Context(), cfg.EngineConfig(), model, priors, like, cfg.Observed, cfg.Workers())
			if err != nil {
				fmt.Printf("\n%sCalibration failed%s\n", display.ColorRed, display.ColorReset)
				return err
			}

			if err := persist(cmd.Context(), cfg, history); err != nil {
				return err
			}

			fmt.Print(display.FormatSchedule(history))
			fmt.Println()
			fmt.Print(display.FormatPosterior(cfg.ParamNames(), history))
			return nil
		},
	}

	cmd.Flags().StringVar(&modelName, "model", "constant", "Forward model (constant, linear, polynomial, exponential)")
	cmd.Flags().StringVar(&xValues, "x", "", "Comma-separated independent-variable grid (default: 0,1,2,...)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Enable per-stage debug logging")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Append stage logs to a file")

	return cmd
}

// parseGrid parses the --x flag, falling back to observation indices.
func parseGrid(raw string, numObs int) ([]float64, error) {
	if raw == "" {
		x := make([]float64, numObs)
		for i := range x {
			x[i] = float64(i)
		}
		return x, nil
	}

	parts := strings.Split(raw, ",")
	if len(parts) != numObs {
		return nil, fmt.Errorf("x grid has %d points but config has %d observations", len(parts), numObs)
	}
	x := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid x value %q: %w", part, err)
		}
		x[i] = v
	}
	return x, nil
}

// persist writes the run to the configured outputs.
func persist(ctx context.Context, cfg *config.RunConfig, history []*core.ParticleStep) error {
	if cfg.Output.SQLitePath != "" {
		store, err := storage.NewSQLiteStore(cfg.Output.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()

		runID := uuid.New().String()
		if err := store.CreateRun(ctx, runID, cfg.ParamNames(), cfg.Sampler); err != nil {
			return err
		}
		for stage, step := range history {
			if err := store.SaveStep(ctx, runID, stage, step); err != nil {
				return err
			}
		}
		fmt.Printf("%sSaved run %s to %s%s\n", display.ColorGreen, runID, cfg.Output.SQLitePath, display.ColorReset)
	}

	if cfg.Output.ParquetPath != "" {
		final := history[len(history)-1]
		if err := storage.WriteParquet(cfg.Output.ParquetPath, cfg.ParamNames(), final); err != nil {
			return err
		}
		fmt.Printf("%sExported posterior to %s%s\n", display.ColorGreen, cfg.Output.ParquetPath, display.ColorReset)
	}
	return nil
}
