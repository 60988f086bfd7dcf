package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/norabelrose/elk/adapters/checkpoint"
	"github.com/norabelrose/elk/adapters/export"
	"github.com/norabelrose/elk/adapters/extraction"
	"github.com/norabelrose/elk/adapters/ledger"
	"github.com/norabelrose/elk/adapters/supervised"
	"github.com/norabelrose/elk/app"
	"github.com/norabelrose/elk/domain/results"
	"github.com/norabelrose/elk/internal/config"
	"github.com/norabelrose/elk/internal/eval"
	"github.com/norabelrose/elk/internal/reporter"
	"github.com/norabelrose/elk/internal/sweep"
	"github.com/norabelrose/elk/ports"
)

func main() {
	// Optional .env in the working directory; the environment wins.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "elicit",
		Short: "Train truthfulness probes on extracted model activations",
	}
	rootCmd.AddCommand(newSweepCmd(), newEvalCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSweepCmd() *cobra.Command {
	var (
		datasets      []string
		layers        []int
		variant       string
		supervisedStr string
		seed          int64
		numTries      int
		numClasses    int
		useDifference bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Train and evaluate a probe for every selected layer",
		Long: `Train a probe per layer over previously extracted activations.

Example: elicit sweep --datasets imdb,amazon_polarity --layers 12,13,14 --variant eigen --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				seed = cfg.Sweep.Seed
			}

			repCfg := reporter.Config{Variant: reporter.Variant(variant)}
			repCfg.CCS.NumTries = numTries
			repCfg.Eigen.NumClasses = numClasses
			repCfg.Eigen.UseDifference = useDifference

			store := extraction.NewStore(cfg.Paths.ExtractionDir)
			checkpoints := checkpoint.NewStore(cfg.Paths.CheckpointDir)
			orch := sweep.New(store, supervised.NewTrainer(), checkpoints, sweep.NewPool(cfg.Sweep.Devices))

			sinks, cleanup, err := buildSinks(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := app.NewElicitService(orch, sinks...)
			res, err := svc.RunSweep(cmd.Context(), app.ElicitRequest{
				Datasets:       datasets,
				Layers:         layers,
				Seed:           seed,
				Reporter:       repCfg,
				SupervisedMode: ports.SupervisedMode(supervisedStr),
			})
			if err != nil {
				return err
			}
			printSummary(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&datasets, "datasets", nil, "Datasets to train on")
	cmd.Flags().IntSliceVar(&layers, "layers", nil, "Layer indices to sweep")
	cmd.Flags().StringVar(&variant, "variant", string(reporter.VariantEigen), "Probe variant: ccs or eigen")
	cmd.Flags().StringVar(&supervisedStr, "supervised", string(ports.SupervisedSingle), "Baseline mode: none, single, inlp or cv")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Base seed; each layer derives its own")
	cmd.Flags().IntVar(&numTries, "num-tries", 0, "ccs random restarts (0 = default)")
	cmd.Flags().IntVar(&numClasses, "num-classes", 0, "Fixed choice count for eigen; 0 pools heterogeneous datasets")
	cmd.Flags().BoolVar(&useDifference, "use-difference", false, "Maximize the eigen difference objective instead of the ratio")
	_ = cmd.MarkFlagRequired("datasets")
	_ = cmd.MarkFlagRequired("layers")

	return cmd
}

func newEvalCmd() *cobra.Command {
	var dataset string
	var layer int

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Re-evaluate a checkpointed probe on a validation split",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			checkpoints := checkpoint.NewStore(cfg.Paths.CheckpointDir)
			cp, err := checkpoints.LoadReporter(cmd.Context(), layer)
			if err != nil {
				return err
			}
			rep, err := cp.Reporter()
			if err != nil {
				return err
			}

			store := extraction.NewStore(cfg.Paths.ExtractionDir)
			split, err := store.LoadSplit(cmd.Context(), dataset, ports.SplitVal, layer)
			if err != nil {
				return err
			}
			preds, err := rep.Predict(split.Hiddens)
			if err != nil {
				return err
			}
			res, err := eval.Evaluate(split.Labels, preds)
			if err != nil {
				return err
			}
			cmd.Printf("%s layer %d (%s): accuracy=%.4f auroc=%.4f\n",
				dataset, layer, rep.Variant(), res.Accuracy, res.AUROC)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "Dataset to evaluate")
	cmd.Flags().IntVar(&layer, "layer", 0, "Layer whose checkpoint to load")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("layer")

	return cmd
}

// buildSinks assembles the optional result sinks from the environment.
func buildSinks(ctx context.Context, cfg *config.Config) ([]ports.ResultSink, func(), error) {
	var sinks []ports.ResultSink
	cleanup := func() {}

	if cfg.Database.URL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to result ledger: %w", err)
		}
		pg := ledger.NewPostgresLedger(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, cleanup, err
		}
		sinks = append(sinks, pg)
		cleanup = func() { db.Close() }
	}
	if cfg.Paths.ExportFile != "" {
		sinks = append(sinks, export.NewExcelWriter(cfg.Paths.ExportFile))
	}
	return sinks, cleanup, nil
}

func printSummary(cmd *cobra.Command, res *app.ElicitResult) {
	cmd.Printf("sweep %s finished in %dms\n", res.SweepID, res.RuntimeMs)
	if len(res.Manifest.FailedLayers) > 0 {
		cmd.Printf("failed layers: %v\n", res.Manifest.FailedLayers)
	}
	for _, name := range []string{results.TableEval, results.TableLMEval, results.TableLREval} {
		rows := res.Tables[name]
		if len(rows) == 0 {
			continue
		}
		cmd.Printf("\n%s\n", name)
		for _, row := range rows {
			cmd.Printf("  %-20s layer %-3d acc=%.4f auroc=%.4f loss=%.4f\n",
				row.Dataset, row.Layer, row.Accuracy, row.AUROC, row.TrainLoss)
		}
	}
}
