// Package ledger stores sweep results in PostgreSQL, giving repeated sweeps a
// queryable history.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/norabelrose/elk/domain/results"
)

const schema = `
CREATE TABLE IF NOT EXISTS sweeps (
	id               TEXT PRIMARY KEY,
	reporter_variant TEXT NOT NULL,
	seed             BIGINT NOT NULL,
	datasets         TEXT[] NOT NULL,
	layers           INT[] NOT NULL,
	failed_layers    INT[],
	started_at       TIMESTAMPTZ NOT NULL,
	runtime_ms       BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS eval_rows (
	sweep_id     TEXT NOT NULL REFERENCES sweeps(id),
	table_name   TEXT NOT NULL,
	dataset      TEXT NOT NULL,
	layer        INT NOT NULL,
	accuracy     DOUBLE PRECISION NOT NULL,
	auroc        DOUBLE PRECISION,
	train_loss   DOUBLE PRECISION NOT NULL,
	pseudo_auroc DOUBLE PRECISION,
	inlp_iter    INT
);

CREATE INDEX IF NOT EXISTS eval_rows_sweep_idx ON eval_rows (sweep_id, table_name, layer);
`

// PostgresLedger implements ports.ResultSink on a sqlx connection.
type PostgresLedger struct {
	db *sqlx.DB
}

// NewPostgresLedger wraps an open connection.
func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureSchema creates the ledger tables when missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating ledger schema: %w", err)
	}
	return nil
}

// StoreSweep writes the manifest and every result row in one transaction.
func (l *PostgresLedger) StoreSweep(ctx context.Context, manifest results.SweepManifest, tables results.Tables) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("opening ledger transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sweeps (id, reporter_variant, seed, datasets, layers, failed_layers, started_at, runtime_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(manifest.SweepID), manifest.ReporterVariant, manifest.Seed,
		pq.Array(manifest.Datasets), pq.Array(manifest.Layers), pq.Array(manifest.FailedLayers),
		manifest.StartedAt, manifest.RuntimeMs)
	if err != nil {
		return fmt.Errorf("inserting sweep manifest: %w", err)
	}

	for name, rows := range tables {
		for _, row := range rows {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO eval_rows (sweep_id, table_name, dataset, layer, accuracy, auroc, train_loss, pseudo_auroc, inlp_iter)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, string(manifest.SweepID), name, row.Dataset, row.Layer,
				row.Accuracy, nullIfNaN(row.AUROC), row.TrainLoss,
				nullFloat(row.PseudoAUROC), nullInt(row.INLPIter))
			if err != nil {
				return fmt.Errorf("inserting %s row for %s layer %d: %w", name, row.Dataset, row.Layer, err)
			}
		}
	}
	return tx.Commit()
}

// nullIfNaN maps the NaN sentinel for degenerate metrics onto SQL NULL.
func nullIfNaN(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return nullIfNaN(*v)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
