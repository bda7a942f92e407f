package training

import (
	"context"
	"fmt"
	"math"

	"tykee/internal/domain"
)

// Default logistic regression hyperparameters.
const (
	DefaultEpochs       = 200
	DefaultLearningRate = 0.1
	DefaultL2           = 1e-4
)

// LogisticOptions contains hyperparameters for LogisticRegression.
type LogisticOptions struct {
	Epochs       int
	LearningRate float64
	// L2 is the ridge penalty on the weights; the bias is not penalized.
	L2 float64
}

// LogisticRegression fits a sigmoid linear model with full-batch gradient
// descent on the log-loss.
type LogisticRegression struct {
	epochs       int
	learningRate float64
	l2           float64
}

// NewLogisticRegression creates a trainer with the given hyperparameters.
func NewLogisticRegression(opts LogisticOptions) *LogisticRegression {
	epochs := opts.Epochs
	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	learningRate := opts.LearningRate
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	l2 := opts.L2
	if l2 < 0 {
		l2 = DefaultL2
	}
	return &LogisticRegression{
		epochs:       epochs,
		learningRate: learningRate,
		l2:           l2,
	}
}

// Compile-time interface check.
var _ Trainer = (*LogisticRegression)(nil)

// Fit implements Trainer.
func (lr *LogisticRegression) Fit(ctx context.Context, examples []domain.TrainingExample) (Model, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyDataset
	}

	width := len(examples[0].Features.Values)
	for i := range examples {
		if len(examples[i].Features.Values) != width {
			return nil, fmt.Errorf("example %d: expected %d features, got %d",
				i, width, len(examples[i].Features.Values))
		}
	}

	weights := make([]float64, width)
	bias := 0.0
	n := float64(len(examples))

	gradW := make([]float64, width)
	for epoch := 0; epoch < lr.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0

		for i := range examples {
			x := examples[i].Features.Values
			y := float64(examples[i].Label.Class)
			err := sigmoid(dot(weights, x)+bias) - y
			for j, xj := range x {
				gradW[j] += err * xj
			}
			gradB += err
		}

		for j := range weights {
			weights[j] -= lr.learningRate * (gradW[j]/n + lr.l2*weights[j])
		}
		bias -= lr.learningRate * gradB / n
	}

	return &logisticModel{
		names:   examples[0].Features.Names,
		weights: weights,
		bias:    bias,
	}, nil
}

// logisticModel is a fitted sigmoid linear model.
type logisticModel struct {
	names   []string
	weights []float64
	bias    float64
}

// Predict implements Model.
func (m *logisticModel) Predict(fv domain.FeatureVector) Prediction {
	p := sigmoid(dot(m.weights, fv.Values) + m.bias)
	class := 0
	if p >= 0.5 {
		class = 1
	}
	return Prediction{Probability: p, Class: class}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
