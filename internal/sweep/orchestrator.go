// Package sweep runs probe training across model layers in parallel, one
// independent job per layer, and merges their result tables.
package sweep

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/results"
	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/internal/eval"
	"github.com/norabelrose/elk/internal/reporter"
	"github.com/norabelrose/elk/ports"
)

// Options defines one sweep.
type Options struct {
	Datasets []string
	Layers   []int
	// Seed is the base seed; layer jobs derive theirs as Seed + layer, so the
	// same layer trains identically regardless of scheduling.
	Seed           int64
	Reporter       reporter.Config
	SupervisedMode ports.SupervisedMode
}

// Outcome is the merged result of a sweep. FailedLayers lists jobs lost to
// numerical failures; their rows are absent from Tables.
type Outcome struct {
	Tables       results.Tables
	FailedLayers []int
}

// Orchestrator wires the ports a sweep needs.
type Orchestrator struct {
	extraction  ports.ExtractionPort
	supervised  ports.SupervisedPort
	checkpoints ports.CheckpointPort
	devices     ports.DevicePort
}

// New creates an orchestrator over the given collaborators.
func New(extraction ports.ExtractionPort, supervised ports.SupervisedPort, checkpoints ports.CheckpointPort, devices ports.DevicePort) *Orchestrator {
	return &Orchestrator{
		extraction:  extraction,
		supervised:  supervised,
		checkpoints: checkpoints,
		devices:     devices,
	}
}

// Run executes every layer job. Configuration problems abort the whole sweep;
// a numerical failure only loses its own layer.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	if err := o.validate(opts); err != nil {
		return nil, err
	}
	if err := o.checkpoints.SaveConfig(ctx, opts.Reporter.WithDefaults()); err != nil {
		return nil, err
	}

	type layerOutcome struct {
		tables results.Tables
		failed bool
	}
	outcomes := make([]layerOutcome, len(opts.Layers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.devices.Count())
	for rank, layer := range opts.Layers {
		rank, layer := rank, layer
		g.Go(func() error {
			device, err := o.devices.Acquire(ctx)
			if err != nil {
				return err
			}
			defer o.devices.Release(device)

			tables, err := o.runLayer(ctx, opts, layer, device)
			if err != nil {
				if core.IsNumericalError(err) {
					log.Printf("[Sweep] layer %d failed: %v", layer, err)
					outcomes[rank] = layerOutcome{failed: true}
					return nil
				}
				return fmt.Errorf("layer %d: %w", layer, err)
			}
			outcomes[rank] = layerOutcome{tables: tables}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{}
	parts := make([]results.Tables, 0, len(outcomes))
	for rank, oc := range outcomes {
		if oc.failed {
			out.FailedLayers = append(out.FailedLayers, opts.Layers[rank])
			continue
		}
		parts = append(parts, oc.tables)
	}
	out.Tables = results.Merge(parts)
	return out, nil
}

func (o *Orchestrator) validate(opts Options) error {
	if len(opts.Datasets) == 0 {
		return core.NewConfigError("no datasets selected")
	}
	if len(opts.Layers) == 0 {
		return core.NewConfigError("no layers selected")
	}
	cfg := opts.Reporter.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Variant == reporter.VariantCCS && len(opts.Datasets) > 1 {
		return fmt.Errorf("%w: got %d (%v)", core.ErrMultiDataset, len(opts.Datasets), opts.Datasets)
	}
	if opts.SupervisedMode != "" && !opts.SupervisedMode.Valid() {
		return core.NewConfigError(fmt.Sprintf("unknown supervised mode %q", opts.SupervisedMode))
	}
	return nil
}

// runLayer trains, calibrates, checkpoints and evaluates one layer on the
// device it was handed.
func (o *Orchestrator) runLayer(ctx context.Context, opts Options, layer int, device string) (results.Tables, error) {
	trainBatches, valSplits, err := o.loadLayer(ctx, opts.Datasets, layer)
	if err != nil {
		return nil, err
	}
	d := trainBatches[0].X.D

	cfg := opts.Reporter.WithDefaults()
	cfg.Seed = opts.Seed + int64(layer)
	cfg.Device = device

	rep, err := reporter.New(cfg, d)
	if err != nil {
		return nil, err
	}

	var trainLoss float64
	var pseudoAUROC *float64
	switch fitter := rep.(type) {
	case reporter.ContrastiveFitter:
		trainLoss, err = fitter.Fit(trainBatches)
		if err != nil {
			return nil, err
		}
		// One dataset by contract; compare its train and val halves.
		pseudo, sepErr := fitter.CheckSeparability(trainBatches[0].X, valSplits[0].Hiddens)
		if sepErr != nil {
			return nil, sepErr
		}
		pseudoAUROC = &pseudo
	case reporter.StreamingFitter:
		for _, b := range trainBatches {
			if err := fitter.Update(b.X); err != nil {
				return nil, err
			}
		}
		trainLoss, err = fitter.FitStreaming()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q has no training surface", core.ErrUnknownReporter, rep.Variant())
	}

	if err := rep.PlattScale(trainBatches); err != nil {
		return nil, err
	}
	cp, err := rep.Checkpoint(layer)
	if err != nil {
		return nil, err
	}
	if err := o.checkpoints.SaveReporter(ctx, cp); err != nil {
		return nil, err
	}

	tables := make(results.Tables)
	for _, val := range valSplits {
		preds, err := rep.Predict(val.Hiddens)
		if err != nil {
			return nil, err
		}
		res, err := eval.Evaluate(val.Labels, preds)
		if err != nil {
			return nil, err
		}
		tables.Append(results.TableEval, results.EvalRow{
			Dataset:     val.Dataset,
			Layer:       layer,
			Accuracy:    res.Accuracy,
			AUROC:       res.AUROC,
			TrainLoss:   trainLoss,
			PseudoAUROC: pseudoAUROC,
		})

		if val.LMPreds != nil {
			lm, err := eval.Evaluate(val.Labels, val.LMPreds)
			if err != nil {
				return nil, err
			}
			tables.Append(results.TableLMEval, results.EvalRow{
				Dataset:  val.Dataset,
				Layer:    layer,
				Accuracy: lm.Accuracy,
				AUROC:    lm.AUROC,
			})
		}
	}

	if err := o.runBaseline(ctx, opts, layer, trainBatches, valSplits, tables); err != nil {
		return nil, err
	}

	log.Printf("[Sweep] layer %d done on %s (%d datasets)", layer, cfg.Device, len(opts.Datasets))
	return tables, nil
}

// runBaseline trains and scores the supervised comparison models.
func (o *Orchestrator) runBaseline(ctx context.Context, opts Options, layer int, trainBatches []tensor.LabeledBatch, valSplits []*ports.DatasetSplit, tables results.Tables) error {
	mode := opts.SupervisedMode
	if mode == "" || mode == ports.SupervisedNone {
		return nil
	}

	models, err := o.supervised.Train(ctx, mode, trainBatches)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return nil
	}
	if err := o.checkpoints.SaveBaseline(ctx, layer, models); err != nil {
		return err
	}

	for _, model := range models {
		iter := model.Iteration
		for _, val := range valSplits {
			res, err := eval.Evaluate(val.Labels, model.Predict(val.Hiddens))
			if err != nil {
				return err
			}
			tables.Append(results.TableLREval, results.EvalRow{
				Dataset:   val.Dataset,
				Layer:     layer,
				Accuracy:  res.Accuracy,
				AUROC:     res.AUROC,
				TrainLoss: model.TrainLoss,
				INLPIter:  &iter,
			})
		}
	}
	return nil
}

// loadLayer fetches both splits of every dataset and checks that they agree on
// the hidden width.
func (o *Orchestrator) loadLayer(ctx context.Context, datasets []string, layer int) ([]tensor.LabeledBatch, []*ports.DatasetSplit, error) {
	trainBatches := make([]tensor.LabeledBatch, 0, len(datasets))
	valSplits := make([]*ports.DatasetSplit, 0, len(datasets))

	width := 0
	for _, name := range datasets {
		train, err := o.extraction.LoadSplit(ctx, name, ports.SplitTrain, layer)
		if err != nil {
			return nil, nil, fmt.Errorf("loading %s train split: %w", name, err)
		}
		val, err := o.extraction.LoadSplit(ctx, name, ports.SplitVal, layer)
		if err != nil {
			return nil, nil, fmt.Errorf("loading %s val split: %w", name, err)
		}
		if width == 0 {
			width = train.Hiddens.D
		}
		if train.Hiddens.D != width {
			return nil, nil, core.NewWidthMismatchError(name, width, train.Hiddens.D)
		}
		if val.Hiddens.D != width {
			return nil, nil, core.NewWidthMismatchError(name, width, val.Hiddens.D)
		}
		trainBatches = append(trainBatches, tensor.LabeledBatch{Name: name, X: train.Hiddens, Labels: train.Labels})
		valSplits = append(valSplits, val)
	}
	return trainBatches, valSplits, nil
}
