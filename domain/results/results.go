package results

import (
	"sort"
	"time"

	"github.com/norabelrose/elk/domain/core"
)

// Table names emitted by a layer-job.
const (
	TableEval   = "eval"    // probe predictions vs ground truth
	TableLMEval = "lm_eval" // the upstream model's own predictions
	TableLREval = "lr_eval" // supervised baseline iterations
)

// EvalRow is one evaluation result for a (dataset, layer) pair. AUROC is NaN
// when the validation split contains a single class. PseudoAUROC is set only
// on eval rows from contrastive training; INLPIter only on lr_eval rows.
type EvalRow struct {
	Dataset     string   `json:"dataset" db:"dataset"`
	Layer       int      `json:"layer" db:"layer"`
	Accuracy    float64  `json:"accuracy" db:"accuracy"`
	AUROC       float64  `json:"auroc" db:"auroc"`
	TrainLoss   float64  `json:"train_loss" db:"train_loss"`
	PseudoAUROC *float64 `json:"pseudo_auroc,omitempty" db:"pseudo_auroc"`
	INLPIter    *int     `json:"inlp_iter,omitempty" db:"inlp_iter"`
}

// Tables maps a table name to its accumulated rows.
type Tables map[string][]EvalRow

// Append adds a row to the named table.
func (t Tables) Append(name string, row EvalRow) {
	t[name] = append(t[name], row)
}

// Merge combines per-layer tables into one set, ordered by (layer, dataset)
// so repeated sweeps produce identical output.
func Merge(parts []Tables) Tables {
	merged := make(Tables)
	for _, part := range parts {
		for name, rows := range part {
			merged[name] = append(merged[name], rows...)
		}
	}
	for name := range merged {
		rows := merged[name]
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Layer != rows[j].Layer {
				return rows[i].Layer < rows[j].Layer
			}
			return rows[i].Dataset < rows[j].Dataset
		})
	}
	return merged
}

// SweepManifest captures the audit metadata for one full sweep.
type SweepManifest struct {
	SweepID         core.SweepID `json:"sweep_id"`
	ReporterVariant string       `json:"reporter_variant"`
	Seed            int64        `json:"seed"`
	Datasets        []string     `json:"datasets"`
	Layers          []int        `json:"layers"`
	FailedLayers    []int        `json:"failed_layers,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	RuntimeMs       int64        `json:"runtime_ms"`
}
