package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrInference wraps every failure of a forward pass.
var ErrInference = errors.New("inference failed")

// Label is a class the X-ray classifier can predict.
type Label int

const (
	Normal Label = iota
	Pneumonia
)

// UnknownLabel is reported for an index outside the label table.
const UnknownLabel = "Unknown"

func (l Label) String() string {
	switch l {
	case Normal:
		return "Normal"
	case Pneumonia:
		return "Pneumonia"
	default:
		return UnknownLabel
	}
}

// LabelFor maps a class index to its label.
func LabelFor(index int) string {
	return Label(index).String()
}

// Prediction is the response body of a classification.
type Prediction struct {
	Index int    `json:"prediction_index"`
	Label string `json:"prediction_label"`
}

// Classifier runs a forward pass over one preprocessed input tensor and
// returns the raw class scores.
type Classifier interface {
	Forward(ctx context.Context, input []float32) ([]float32, error)
}

// ArgMax returns the index of the largest score. Ties go to the lowest
// index; an empty slice yields -1.
func ArgMax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx
}

// Classify runs c on input and labels the highest-scoring class.
func Classify(ctx context.Context, c Classifier, input []float32) (Prediction, error) {
	scores, err := c.Forward(ctx, input)
	if err != nil {
		return Prediction{}, err
	}
	idx := ArgMax(scores)
	if idx < 0 {
		return Prediction{}, fmt.Errorf("%w: model produced no scores", ErrInference)
	}
	return Prediction{Index: idx, Label: LabelFor(idx)}, nil
}
