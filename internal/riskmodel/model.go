package riskmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
)

// Model is a standardized logistic-regression export:
// p = sigmoid(intercept + sum(coef_i * (x_i - mean_i) / scale_i)).
type Model struct {
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// LoadModel reads and validates a model export.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the export is internally consistent and uses known features.
func (m *Model) Validate() error {
	n := len(m.FeatureNames)
	if n == 0 {
		return errors.New("no features")
	}
	if len(m.Mean) != n || len(m.Scale) != n || len(m.Coefficients) != n {
		return fmt.Errorf("length mismatch: %d features, %d means, %d scales, %d coefficients",
			n, len(m.Mean), len(m.Scale), len(m.Coefficients))
	}
	for i, name := range m.FeatureNames {
		if !slices.Contains(FeatureNames, name) {
			return fmt.Errorf("unknown feature %q", name)
		}
		for _, v := range []float64{m.Mean[i], m.Scale[i], m.Coefficients[i]} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite parameter for %q", name)
			}
		}
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return errors.New("non-finite intercept")
	}
	return nil
}

// Probability returns the positive-class probability for f.
func (m *Model) Probability(f Features) (float64, error) {
	z := m.Intercept
	for i, x := range f.Vector(m.FeatureNames) {
		scale := m.Scale[i]
		if scale == 0 {
			scale = 1
		}
		z += m.Coefficients[i] * (x - m.Mean[i]) / scale
	}
	if math.IsNaN(z) {
		return 0, errors.New("model produced NaN")
	}
	return 1 / (1 + math.Exp(-z)), nil
}
