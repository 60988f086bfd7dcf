package reporter

import (
	"fmt"

	"github.com/norabelrose/elk/domain/core"
)

// Variant selects the probe training algorithm.
type Variant string

const (
	// VariantCCS trains a direction by contrastive consistency search.
	VariantCCS Variant = "ccs"
	// VariantEigen derives a direction from streamed covariance statistics.
	VariantEigen Variant = "eigen"
)

// Config is the tagged union of reporter settings. It is fixed before a sweep
// starts and serialized once beside the per-layer checkpoints.
type Config struct {
	Variant Variant `json:"variant"`
	Seed    int64   `json:"seed"`
	// Device records the placement the orchestrator assigned; it is carried
	// through checkpoints for audit, not interpreted by the probes.
	Device string `json:"device,omitempty"`

	CCS   CCSConfig   `json:"ccs"`
	Eigen EigenConfig `json:"eigen"`
}

// CCSConfig holds the contrastive search hyperparameters.
type CCSConfig struct {
	// NumTries random restarts; the lowest-loss direction wins.
	NumTries int `json:"num_tries"`
	MaxIter  int `json:"max_iter"`

	LearningRate      float64 `json:"learning_rate"`
	ConsistencyWeight float64 `json:"consistency_weight"`
	ConfidenceWeight  float64 `json:"confidence_weight"`

	// CenterOnly skips the variance rescaling step of normalization,
	// leaving mean centering only.
	CenterOnly bool `json:"center_only"`
}

// EigenConfig holds the eigenproblem settings.
type EigenConfig struct {
	// NumClasses fixes the answer-choice count across all training batches.
	// Zero pools statistics over batches with differing choice counts,
	// weighted by example count.
	NumClasses int `json:"num_classes"`

	// UseDifference maximizes w'(B - a*W)w instead of the ratio w'Bw / w'Ww,
	// where B is the between-class and W the variant-invariance covariance.
	UseDifference bool `json:"use_difference"`
	// InvarianceWeight is the a coefficient in difference mode.
	InvarianceWeight float64 `json:"invariance_weight"`

	// Ridge scales the diagonal regularizer relative to trace(W)/D. It is
	// escalated tenfold a few times before a singular W is declared fatal.
	Ridge float64 `json:"ridge"`
}

// DefaultConfig returns an eigen configuration with the standard settings.
func DefaultConfig() Config {
	cfg := Config{Variant: VariantEigen}
	return cfg.WithDefaults()
}

// WithDefaults fills unset hyperparameters.
func (c Config) WithDefaults() Config {
	if c.CCS.NumTries == 0 {
		c.CCS.NumTries = 10
	}
	if c.CCS.MaxIter == 0 {
		c.CCS.MaxIter = 1000
	}
	if c.CCS.LearningRate == 0 {
		c.CCS.LearningRate = 0.01
	}
	if c.CCS.ConsistencyWeight == 0 {
		c.CCS.ConsistencyWeight = 1
	}
	if c.CCS.ConfidenceWeight == 0 {
		c.CCS.ConfidenceWeight = 1
	}
	if c.Eigen.InvarianceWeight == 0 {
		c.Eigen.InvarianceWeight = 1
	}
	if c.Eigen.Ridge == 0 {
		c.Eigen.Ridge = 1e-4
	}
	return c
}

// Validate rejects unknown variants and malformed settings.
func (c Config) Validate() error {
	switch c.Variant {
	case VariantCCS, VariantEigen:
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownReporter, c.Variant)
	}
	if c.Eigen.NumClasses < 0 {
		return core.NewConfigError(fmt.Sprintf("negative class count %d", c.Eigen.NumClasses))
	}
	return nil
}
