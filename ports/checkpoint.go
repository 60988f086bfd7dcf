package ports

import (
	"context"

	"github.com/norabelrose/elk/internal/reporter"
)

// CheckpointPort persists trained state for later reuse. The reporter config
// is written once per sweep; per-layer snapshots are written as their jobs
// finish, in any order.
type CheckpointPort interface {
	SaveConfig(ctx context.Context, cfg reporter.Config) error
	SaveReporter(ctx context.Context, cp *reporter.Checkpoint) error
	LoadReporter(ctx context.Context, layer int) (*reporter.Checkpoint, error)
	SaveBaseline(ctx context.Context, layer int, models []BaselineModel) error
}
