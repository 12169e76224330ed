package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

// Metadata describes the exported graph. It is read from the sidecar JSON
// written next to the .onnx file and from the graph's own custom metadata.
type Metadata struct {
	InputName     string    `json:"input_name"`
	OutputName    string    `json:"output_name"`
	InputShape    []int64   `json:"input_shape"`
	OutputShape   []int64   `json:"output_shape"`
	Classes       []string  `json:"classes"`
	ImageSize     int       `json:"image_size"`
	LabelsVersion string    `json:"labels_version,omitempty"`
	Mean          []float32 `json:"mean,omitempty"`
	Std           []float32 `json:"std,omitempty"`
}

// DefaultMetadata is the layout produced by exporting the ResNet-50 checkpoint.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 3, ImageSize, ImageSize},
		OutputShape: []int64{1, NumLabels},
		ImageSize:   ImageSize,
	}
}

// withDefaults fills the fields an export script may omit.
func (m Metadata) withDefaults() Metadata {
	def := DefaultMetadata()
	if m.InputName == "" {
		m.InputName = def.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.OutputName
	}
	if len(m.InputShape) == 0 {
		m.InputShape = def.InputShape
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = def.OutputShape
	}
	if m.ImageSize == 0 {
		m.ImageSize = def.ImageSize
	}
	return m
}

// Validate checks the metadata against the fixed preprocessing and the
// label enumeration.
func (m Metadata) Validate() error {
	if m.ImageSize != ImageSize {
		return domain.WrapError(domain.ErrModelUnavailable, "validate metadata",
			fmt.Errorf("image size %d, expected %d", m.ImageSize, ImageSize))
	}
	want := []int64{1, Channels, ImageSize, ImageSize}
	if !equalShape(m.InputShape, want) {
		return domain.WrapError(domain.ErrModelUnavailable, "validate metadata",
			fmt.Errorf("input shape %v, expected %v", m.InputShape, want))
	}
	if shapeSize(m.OutputShape) != NumLabels {
		return domain.WrapError(domain.ErrModelUnavailable, "validate metadata",
			fmt.Errorf("output shape %v does not hold %d scores", m.OutputShape, NumLabels))
	}
	if err := checkConstants("mean", m.Mean, Mean); err != nil {
		return err
	}
	if err := checkConstants("std", m.Std, Std); err != nil {
		return err
	}
	return ValidateClasses(m.Classes)
}

// checkConstants rejects artifacts trained with a different normalization.
// Missing values are accepted.
func checkConstants(name string, got []float32, want [Channels]float32) error {
	if len(got) == 0 {
		return nil
	}
	if len(got) != Channels {
		return domain.WrapError(domain.ErrModelUnavailable, "validate metadata",
			fmt.Errorf("%s has %d values", name, len(got)))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > 1e-4 {
			return domain.WrapError(domain.ErrModelUnavailable, "validate metadata",
				fmt.Errorf("%s %v does not match preprocessing %v", name, got, want))
		}
	}
	return nil
}

// resolveClasses merges the class lists found in the sidecar and embedded in
// the graph. At least one must be present and, when both are, they must agree.
func resolveClasses(sidecar, embedded []string) ([]string, error) {
	switch {
	case len(sidecar) == 0 && len(embedded) == 0:
		return nil, domain.WrapError(domain.ErrLabelMapping, "resolve classes",
			fmt.Errorf("model artifact carries no class list"))
	case len(sidecar) == 0:
		return embedded, nil
	case len(embedded) == 0:
		return sidecar, nil
	}
	if len(sidecar) != len(embedded) {
		return nil, domain.WrapError(domain.ErrLabelMapping, "resolve classes",
			fmt.Errorf("sidecar lists %d classes, graph lists %d", len(sidecar), len(embedded)))
	}
	for i := range sidecar {
		a, errA := ParseLabel(sidecar[i])
		b, errB := ParseLabel(embedded[i])
		if errA != nil || errB != nil || a != b {
			return nil, domain.WrapError(domain.ErrLabelMapping, "resolve classes",
				fmt.Errorf("index %d: sidecar %q, graph %q", i, sidecar[i], embedded[i]))
		}
	}
	return embedded, nil
}

// parseClassList reads the "classes" custom metadata value, either a JSON
// array or a comma separated list.
func parseClassList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var classes []string
		if err := json.Unmarshal([]byte(raw), &classes); err != nil {
			return nil, fmt.Errorf("parse classes metadata: %w", err)
		}
		return classes, nil
	}
	parts := strings.Split(raw, ",")
	classes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			classes = append(classes, p)
		}
	}
	return classes, nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shapeSize(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// Prediction is the outcome of one classification. No confidence is
// reported: the label is the argmax of raw logits.
type Prediction struct {
	Label Label
	Index int
}

type PredictionResponse struct {
	Class string `json:"class"`
	Index int    `json:"index"`
}

func (p Prediction) Response() PredictionResponse {
	return PredictionResponse{Class: p.Label.String(), Index: p.Index}
}
