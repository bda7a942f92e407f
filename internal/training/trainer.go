// Package training holds the thin model-training boundary: chronological
// splitting, a Trainer/Model contract and a plain logistic regression.
package training

import (
	"context"
	"errors"

	"tykee/internal/domain"
)

// ErrEmptyDataset is returned when no examples remain to fit or evaluate.
var ErrEmptyDataset = errors.New("empty dataset")

// Prediction is one model output.
type Prediction struct {
	// Probability of the positive class, in [0, 1].
	Probability float64
	// Class is the thresholded decision, 0 or 1.
	Class int
}

// Model scores feature vectors. Implementations are immutable after Fit.
type Model interface {
	Predict(fv domain.FeatureVector) Prediction
}

// Trainer fits a Model on training examples.
type Trainer interface {
	Fit(ctx context.Context, examples []domain.TrainingExample) (Model, error)
}
