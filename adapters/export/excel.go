// Package export renders merged sweep results as an Excel workbook, one sheet
// per result table plus a manifest sheet.
package export

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/norabelrose/elk/domain/results"
)

// ExcelWriter implements ports.ResultSink by writing a workbook to disk.
type ExcelWriter struct {
	path string
}

// NewExcelWriter creates a writer targeting the given .xlsx path.
func NewExcelWriter(path string) *ExcelWriter {
	return &ExcelWriter{path: path}
}

// StoreSweep writes the workbook. Metric cells holding the NaN sentinel are
// left empty, matching how spreadsheets represent an undefined value.
func (w *ExcelWriter) StoreSweep(ctx context.Context, manifest results.SweepManifest, tables results.Tables) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeManifestSheet(f, manifest); err != nil {
		return err
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeTableSheet(f, name, tables[name]); err != nil {
			return err
		}
	}

	// Replace the default sheet with the manifest.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", w.path, err)
	}
	return nil
}

func writeManifestSheet(f *excelize.File, manifest results.SweepManifest) error {
	const sheet = "sweep"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("creating manifest sheet: %w", err)
	}
	rows := [][]any{
		{"sweep_id", string(manifest.SweepID)},
		{"reporter_variant", manifest.ReporterVariant},
		{"seed", manifest.Seed},
		{"datasets", strings.Join(manifest.Datasets, ", ")},
		{"layers", intsToString(manifest.Layers)},
		{"failed_layers", intsToString(manifest.FailedLayers)},
		{"started_at", manifest.StartedAt.Format(time.RFC3339)},
		{"runtime_ms", manifest.RuntimeMs},
	}
	for i, row := range rows {
		if err := setRow(f, sheet, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func writeTableSheet(f *excelize.File, name string, rows []results.EvalRow) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("creating sheet %s: %w", name, err)
	}
	header := []any{"dataset", "layer", "accuracy", "auroc", "train_loss", "pseudo_auroc", "inlp_iter"}
	if err := setRow(f, name, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		cells := []any{
			row.Dataset,
			row.Layer,
			row.Accuracy,
			floatCell(row.AUROC),
			row.TrainLoss,
			ptrFloatCell(row.PseudoAUROC),
			ptrIntCell(row.INLPIter),
		}
		if err := setRow(f, name, i+2, cells); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("writing %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func floatCell(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func ptrFloatCell(v *float64) any {
	if v == nil {
		return nil
	}
	return floatCell(*v)
}

func ptrIntCell(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intsToString(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ", ")
}
