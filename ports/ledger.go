package ports

import (
	"context"

	"github.com/norabelrose/elk/domain/results"
)

// ResultSink receives the merged output of a completed sweep. Implementations
// include the PostgreSQL ledger and the Excel exporter; a sweep may fan out to
// several sinks.
type ResultSink interface {
	StoreSweep(ctx context.Context, manifest results.SweepManifest, tables results.Tables) error
}
