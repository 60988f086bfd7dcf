package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/results"
	"github.com/norabelrose/elk/internal/reporter"
	"github.com/norabelrose/elk/internal/sweep"
	"github.com/norabelrose/elk/ports"
)

// ElicitService runs one auditable elicitation sweep and fans its results out
// to the configured sinks.
type ElicitService struct {
	orch  *sweep.Orchestrator
	sinks []ports.ResultSink
}

// ElicitRequest defines the inputs for a deterministic sweep.
type ElicitRequest struct {
	Datasets       []string
	Layers         []int
	Seed           int64
	Reporter       reporter.Config
	SupervisedMode ports.SupervisedMode
	SweepID        core.SweepID // optional, generated if empty
}

// ElicitResult contains the complete output of a sweep.
type ElicitResult struct {
	SweepID   core.SweepID          `json:"sweep_id"`
	Manifest  results.SweepManifest `json:"manifest"`
	Tables    results.Tables        `json:"tables"`
	RuntimeMs int64                 `json:"runtime_ms"`
}

// NewElicitService creates the service. Sinks are optional; without any, the
// result is only returned to the caller.
func NewElicitService(orch *sweep.Orchestrator, sinks ...ports.ResultSink) *ElicitService {
	return &ElicitService{orch: orch, sinks: sinks}
}

// RunSweep executes the sweep and persists its manifest and tables.
func (s *ElicitService) RunSweep(ctx context.Context, req ElicitRequest) (*ElicitResult, error) {
	startTime := time.Now()

	sweepID := req.SweepID
	if sweepID == "" {
		sweepID = core.SweepID(core.NewID())
	}

	out, err := s.orch.Run(ctx, sweep.Options{
		Datasets:       req.Datasets,
		Layers:         req.Layers,
		Seed:           req.Seed,
		Reporter:       req.Reporter,
		SupervisedMode: req.SupervisedMode,
	})
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", sweepID, err)
	}

	manifest := results.SweepManifest{
		SweepID:         sweepID,
		ReporterVariant: string(req.Reporter.WithDefaults().Variant),
		Seed:            req.Seed,
		Datasets:        req.Datasets,
		Layers:          req.Layers,
		FailedLayers:    out.FailedLayers,
		StartedAt:       startTime.UTC(),
		RuntimeMs:       time.Since(startTime).Milliseconds(),
	}

	for _, sink := range s.sinks {
		if err := sink.StoreSweep(ctx, manifest, out.Tables); err != nil {
			return nil, fmt.Errorf("persisting sweep %s: %w", sweepID, err)
		}
	}

	log.Printf("[Elicit] sweep %s finished: %d layers, %d failed, %dms",
		sweepID, len(req.Layers), len(out.FailedLayers), manifest.RuntimeMs)
	return &ElicitResult{
		SweepID:   sweepID,
		Manifest:  manifest,
		Tables:    out.Tables,
		RuntimeMs: manifest.RuntimeMs,
	}, nil
}
