package reporter

import (
	"fmt"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/internal/calibration"
	"github.com/norabelrose/elk/internal/norm"
)

// Checkpoint is the serializable snapshot of a trained reporter. One file per
// layer; the sweep-level Config is stored separately so the hyperparameters
// are not repeated in every layer file.
type Checkpoint struct {
	Variant    Variant `json:"variant"`
	Layer      int     `json:"layer"`
	HiddenSize int     `json:"hidden_size"`

	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias,omitempty"`

	// TrainLoss is the ccs objective; EigenValue the eigen one. Only the
	// field matching Variant is meaningful.
	TrainLoss  float64 `json:"train_loss,omitempty"`
	EigenValue float64 `json:"eigenvalue,omitempty"`

	Calibration calibration.Params `json:"calibration"`

	// NegNorm and PosNorm carry the fitted normalization of the ccs variant;
	// nil for eigen, whose statistics absorb centering.
	NegNorm *norm.Normalizer `json:"neg_norm,omitempty"`
	PosNorm *norm.Normalizer `json:"pos_norm,omitempty"`
}

// Reporter reconstructs a predict-ready probe from the snapshot. Training
// state is not restored; the result can score and calibrate but not refit.
func (cp *Checkpoint) Reporter() (Reporter, error) {
	if cp.HiddenSize <= 0 || len(cp.Weights) != cp.HiddenSize {
		return nil, core.NewShapeError(fmt.Sprintf("checkpoint weights have width %d, header says %d", len(cp.Weights), cp.HiddenSize))
	}
	switch cp.Variant {
	case VariantCCS:
		if cp.NegNorm == nil || cp.PosNorm == nil || !cp.NegNorm.Fitted() || !cp.PosNorm.Fitted() {
			return nil, core.NewConfigError("ccs checkpoint is missing its fitted normalizers")
		}
		return &CCS{
			cfg:     Config{Variant: VariantCCS}.WithDefaults(),
			d:       cp.HiddenSize,
			negNorm: cp.NegNorm,
			posNorm: cp.PosNorm,
			weights: append([]float64(nil), cp.Weights...),
			bias:    cp.Bias,
			loss:    cp.TrainLoss,
			cal:     cp.Calibration,
			state:   ccsCalibrated,
		}, nil
	case VariantEigen:
		return &Eigen{
			cfg:        Config{Variant: VariantEigen}.WithDefaults(),
			d:          cp.HiddenSize,
			weights:    append([]float64(nil), cp.Weights...),
			eigenvalue: cp.EigenValue,
			cal:        cp.Calibration,
			state:      eigenCalibrated,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownReporter, cp.Variant)
}
