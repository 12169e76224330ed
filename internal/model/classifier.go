package model

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

// Scorer runs one forward pass over a preprocessed tensor and returns the
// raw logits. Implementations must be safe for concurrent use.
type Scorer interface {
	Scores(ctx context.Context, input []float32) ([]float32, error)
}

// Classifier maps images to labels using a frozen Scorer.
type Classifier struct {
	scorer        Scorer
	labelsVersion string
}

func NewClassifier(scorer Scorer, labelsVersion string) *Classifier {
	return &Classifier{scorer: scorer, labelsVersion: labelsVersion}
}

func (c *Classifier) LabelsVersion() string {
	return c.labelsVersion
}

// Classify preprocesses img and returns the label with the highest logit.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	input, err := Preprocess(img)
	if err != nil {
		return Prediction{}, err
	}
	return c.classify(ctx, input)
}

// ClassifyBytes decodes an encoded image and classifies it.
func (c *Classifier) ClassifyBytes(ctx context.Context, data []byte) (Prediction, error) {
	img, _, err := DecodeImage(data)
	if err != nil {
		return Prediction{}, err
	}
	return c.Classify(ctx, img)
}

// ClassifyTensor classifies an already preprocessed CHW tensor.
func (c *Classifier) ClassifyTensor(ctx context.Context, input []float32) (Prediction, error) {
	if len(input) != TensorSize {
		return Prediction{}, domain.WrapError(domain.ErrInvalidInput, "classify tensor",
			fmt.Errorf("expected %d values, got %d", TensorSize, len(input)))
	}
	return c.classify(ctx, input)
}

func (c *Classifier) classify(ctx context.Context, input []float32) (Prediction, error) {
	if c == nil || c.scorer == nil {
		return Prediction{}, domain.WrapError(domain.ErrModelUnavailable, "classify",
			fmt.Errorf("model is not loaded"))
	}

	scores, err := c.scorer.Scores(ctx, input)
	if err != nil {
		return Prediction{}, err
	}
	if len(scores) != NumLabels {
		return Prediction{}, domain.WrapError(domain.ErrModelUnavailable, "classify",
			fmt.Errorf("model returned %d scores, expected %d", len(scores), NumLabels))
	}

	for i, v := range scores {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Prediction{}, domain.WrapError(domain.ErrModelUnavailable, "classify",
				fmt.Errorf("model returned non-finite score %v at index %d", v, i))
		}
	}

	idx := argmax(scores)
	label, err := LabelAt(idx)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Label: label, Index: idx}, nil
}

// Close releases the scorer if it holds native resources.
func (c *Classifier) Close() error {
	if c == nil || c.scorer == nil {
		return nil
	}
	if closer, ok := c.scorer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// argmax returns the index of the largest value. Ties go to the lowest index.
func argmax(values []float32) int {
	maxIdx := 0
	maxVal := values[0]
	for i, v := range values[1:] {
		if v > maxVal {
			maxVal = v
			maxIdx = i + 1
		}
	}
	return maxIdx
}
