package training

import (
	"math"

	"tykee/internal/domain"
)

// Evaluation summarizes model quality on one example slice.
type Evaluation struct {
	Examples int
	Accuracy float64
	LogLoss  float64
}

// probability floor keeping the log-loss finite.
const epsilon = 1e-15

// Evaluate scores a fitted model against labeled examples.
func Evaluate(m Model, examples []domain.TrainingExample) (*Evaluation, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyDataset
	}

	correct := 0
	loss := 0.0
	for i := range examples {
		pred := m.Predict(examples[i].Features)
		if pred.Class == examples[i].Label.Class {
			correct++
		}

		p := math.Min(math.Max(pred.Probability, epsilon), 1-epsilon)
		if examples[i].Label.Class == 1 {
			loss -= math.Log(p)
		} else {
			loss -= math.Log(1 - p)
		}
	}

	n := float64(len(examples))
	return &Evaluation{
		Examples: len(examples),
		Accuracy: float64(correct) / n,
		LogLoss:  loss / n,
	}, nil
}
