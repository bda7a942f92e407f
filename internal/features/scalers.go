package features

import (
	"errors"
	"math"

	"tykee/internal/domain"
)

// ErrNotFitted is returned when Transform runs before Fit.
var ErrNotFitted = errors.New("scaler not fitted")

// Scaler rescales feature vectors. Fit on the training slice only, then
// transform both splits, so no statistic of the evaluation data leaks into
// training.
type Scaler interface {
	Fit(train []domain.TrainingExample) error
	Transform(values []float64) ([]float64, error)
}

// MinMaxScaler maps each feature onto [0, 1] using the training minimum and
// maximum. Constant features map to 0.
type MinMaxScaler struct {
	min []float64
	max []float64
}

// Fit implements Scaler.
func (s *MinMaxScaler) Fit(train []domain.TrainingExample) error {
	if len(train) == 0 {
		return errors.New("fit on empty training set")
	}

	width := len(train[0].Features.Values)
	s.min = make([]float64, width)
	s.max = make([]float64, width)
	for j := 0; j < width; j++ {
		s.min[j] = math.Inf(1)
		s.max[j] = math.Inf(-1)
	}

	for i := range train {
		for j, v := range train[i].Features.Values {
			if v < s.min[j] {
				s.min[j] = v
			}
			if v > s.max[j] {
				s.max[j] = v
			}
		}
	}
	return nil
}

// Transform implements Scaler.
func (s *MinMaxScaler) Transform(values []float64) ([]float64, error) {
	if s.min == nil {
		return nil, ErrNotFitted
	}

	out := make([]float64, len(values))
	for j, v := range values {
		span := s.max[j] - s.min[j]
		if span == 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - s.min[j]) / span
	}
	return out, nil
}

// StandardScaler centers each feature on the training mean and divides by
// the training standard deviation. Constant features map to 0.
type StandardScaler struct {
	mean []float64
	std  []float64
}

// Fit implements Scaler.
func (s *StandardScaler) Fit(train []domain.TrainingExample) error {
	if len(train) == 0 {
		return errors.New("fit on empty training set")
	}

	width := len(train[0].Features.Values)
	s.mean = make([]float64, width)
	s.std = make([]float64, width)

	for i := range train {
		for j, v := range train[i].Features.Values {
			s.mean[j] += v
		}
	}
	n := float64(len(train))
	for j := range s.mean {
		s.mean[j] /= n
	}

	for i := range train {
		for j, v := range train[i].Features.Values {
			d := v - s.mean[j]
			s.std[j] += d * d
		}
	}
	for j := range s.std {
		s.std[j] = math.Sqrt(s.std[j] / n)
	}
	return nil
}

// Transform implements Scaler.
func (s *StandardScaler) Transform(values []float64) ([]float64, error) {
	if s.mean == nil {
		return nil, ErrNotFitted
	}

	out := make([]float64, len(values))
	for j, v := range values {
		if s.std[j] == 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - s.mean[j]) / s.std[j]
	}
	return out, nil
}

// TransformExamples applies a fitted scaler to a slice of examples,
// returning copies. Labels pass through untouched.
func TransformExamples(s Scaler, examples []domain.TrainingExample) ([]domain.TrainingExample, error) {
	out := make([]domain.TrainingExample, len(examples))
	for i := range examples {
		scaled, err := s.Transform(examples[i].Features.Values)
		if err != nil {
			return nil, err
		}
		out[i] = examples[i]
		out[i].Features.Values = scaled
	}
	return out, nil
}
