/*
quadsim generates transition datasets from a simulated 2D velocity-controlled quadcopter
whose process noise switches between a low and a high regime according to a grayscale
gating image. Each row of a dataset pairs a state and an action with the displacement the
simulator produced for them, for training learned dynamics models.

	quadsim generate --config config.yaml --out data/quad_sim_data.npz
	quadsim serve --dataset data/quad_sim_data.npz

serve renders a quiver plot of the binned mean displacements over the gating regimes, and
without --dataset it generates live, streaming partial datasets to the page.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quadsim/config"
	"quadsim/dataset"
	"quadsim/gating"
	"quadsim/models"
	"quadsim/server"
	"quadsim/server/field_views"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// generate flags
	outPath        string
	workers        int
	constantAction []float64
	maskPath       string

	// serve flags
	datasetPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "quadsim",
	Short: "Gated-noise quadcopter transition datasets",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		if logger, err = zapConfig.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a transition dataset and save it as .npz",
	Long: `Samples states uniformly within the observation bounds, pairs them with a grid of
actions (or one constant action), simulates one transition per pair, and writes the
inputs as x [N, 2*num_dims] and the displacements as y [N, num_dims].`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a quiver plot of a dataset",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	generateCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output .npz path (overrides dataset.output)")
	generateCmd.Flags().IntVar(&workers, "workers", 0, "Number of simulation workers (overrides dataset.workers)")
	generateCmd.Flags().Float64SliceVar(&constantAction, "constant-action", nil,
		"Pair every state with this action, e.g. 1,0 (overrides dataset.constant_action)")
	generateCmd.Flags().StringVar(&maskPath, "mask", "", "Mask image; states on dark pixels are dropped (overrides dataset.mask)")

	serveCmd.Flags().StringVar(&datasetPath, "dataset", "", "Dataset to visualize; generates live when empty")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the command's flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.FromYaml(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.Dataset.Output = outPath
	}
	if flags.Changed("workers") {
		cfg.Dataset.Workers = workers
	}
	if flags.Changed("constant-action") {
		cfg.Dataset.ConstantAction = constantAction
	}
	if flags.Changed("mask") {
		cfg.Dataset.Mask = maskPath
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("loaded config", zap.String("path", configPath), zap.Any("config", cfg))
	return cfg, nil
}

// loadFields loads the optional mask first, so a bad mask fails before any other work,
// then the gating field.
func loadFields(cfg *config.Config) (gatingField, mask *gating.Field, err error) {
	policy, err := gating.ParseBoundsPolicy(cfg.Simulation.BoundsPolicy)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Dataset.Mask != "" {
		if mask, err = gating.Load(gating.ImageSource(cfg.Dataset.Mask), policy); err != nil {
			return nil, nil, fmt.Errorf("mask: %w", err)
		}
	}

	gatingField, err = gating.FromPath(cfg.Simulation.GatingBitmap, cfg.Simulation.BitmapResolution, policy)
	if err != nil {
		return nil, nil, fmt.Errorf("gating field: %w", err)
	}
	rows, cols := gatingField.Dims()
	logger.Debug("loaded gating field",
		zap.String("path", cfg.Simulation.GatingBitmap),
		zap.Int("rows", rows),
		zap.Int("cols", cols))
	return gatingField, mask, nil
}

// generate builds a dataset per the config, publishing snapshots to @updates when non-nil.
func generate(
	ctx context.Context,
	cfg *config.Config,
	gatingField, mask *gating.Field,
	updates chan<- *models.Dataset,
) (*models.Dataset, error) {
	builder, err := dataset.NewBuilder(cfg.Simulation, gatingField, cfg.Dataset.Workers, logger)
	if err != nil {
		return nil, err
	}
	if updates != nil {
		builder.WithUpdates(updates, time.Second/4)
	}

	if cfg.Dataset.ConstantAction != nil {
		return builder.GenerateConstantAction(ctx, cfg.Dataset.ConstantAction, mask, cfg.Dataset.NumStatesPerDim)
	}
	if mask != nil {
		logger.Warn("mask is only applied with a constant action; ignoring it")
	}
	return builder.Generate(ctx, cfg.Dataset.NumStatesPerDim, cfg.Dataset.NumActionsPerDim)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gatingField, mask, err := loadFields(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel, err := cfg.WithDeadline(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	start := time.Now()
	ds, err := generate(ctx, cfg, gatingField, mask, nil)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if err = dataset.Save(cfg.Dataset.Output, ds); err != nil {
		return fmt.Errorf("save %s: %w", cfg.Dataset.Output, err)
	}

	logger.Info("saved dataset",
		zap.String("path", cfg.Dataset.Output),
		zap.Int("rows", ds.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gatingField, mask, err := loadFields(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := models.NewBoundedSpec("observation", cfg.Simulation.MinObservation, cfg.Simulation.MaxObservation)
	converter, err := field_views.NewConverter(obs, gatingField, cfg.Server.Bins)
	if err != nil {
		return err
	}

	initial := models.NewDataset(cfg.Simulation.NumDims, 0)
	updates := make(chan *models.Dataset)
	if datasetPath != "" {
		if initial, err = dataset.Load(datasetPath); err != nil {
			return fmt.Errorf("load %s: %w", datasetPath, err)
		}
		logger.Info("loaded dataset", zap.String("path", datasetPath), zap.Int("rows", initial.Len()))
	} else {
		genCtx, cancel, err := cfg.WithDeadline(ctx)
		if err != nil {
			return err
		}
		defer cancel()
		go func() {
			ds, err := generate(genCtx, cfg, gatingField, mask, updates)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live generation failed", zap.Error(err))
				return
			}
			if ds != nil {
				logger.Info("live generation finished", zap.Int("rows", ds.Len()))
			}
		}()
	}

	srv, err := server.NewServer(ctx, cfg.Server.Addr(), converter, initial, updates, logger)
	if err != nil {
		return err
	}
	return srv.Serve()
}
