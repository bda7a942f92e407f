package training

import (
	"sort"

	"tykee/internal/domain"
)

// DefaultTrainRatio is the default chronological split boundary.
const DefaultTrainRatio = 0.8

// ChronoSplit orders examples by as-of time and cuts them at ratio: the
// older slice trains, the newer one evaluates. Never shuffles; every
// training example precedes every evaluation example in time.
func ChronoSplit(examples []domain.TrainingExample, ratio float64) (train, eval []domain.TrainingExample) {
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultTrainRatio
	}
	if len(examples) == 0 {
		return nil, nil
	}

	ordered := make([]domain.TrainingExample, len(examples))
	copy(ordered, examples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].AsOfTime() < ordered[j].AsOfTime()
	})

	boundary := int(float64(len(ordered)) * ratio)
	return ordered[:boundary], ordered[boundary:]
}
