package model

import (
	"fmt"
	"strings"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

// Label is a health category. The numeric value is the index of the
// classifier output unit that scores it.
type Label int

const (
	Coccidiosis Label = iota
	Healthy
	NewcastleDisease
	Salmonella
)

// NumLabels is the width of the classifier's final layer.
const NumLabels = 4

var labelNames = [NumLabels]string{
	Coccidiosis:      "Coccidiosis",
	Healthy:          "Healthy",
	NewcastleDisease: "NewcastleDisease",
	Salmonella:       "Salmonella",
}

// aliases maps the normalized class names found in training folders and
// older exports to labels.
var aliases = map[string]Label{
	"coccidiosis":      Coccidiosis,
	"cocci":            Coccidiosis,
	"healthy":          Healthy,
	"newcastledisease": NewcastleDisease,
	"newcastle":        NewcastleDisease,
	"ncd":              NewcastleDisease,
	"salmonella":       Salmonella,
	"salmo":            Salmonella,
}

// Labels returns the labels in output-unit order.
func Labels() []Label {
	return []Label{Coccidiosis, Healthy, NewcastleDisease, Salmonella}
}

func (l Label) Valid() bool {
	return l >= 0 && int(l) < NumLabels
}

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid label %d", int(l))
	}
	return []byte(labelNames[l]), nil
}

// ParseLabel resolves a class name as written by a training pipeline.
// Matching ignores case, a "Chicken" prefix, underscores, dashes and spaces.
func ParseLabel(name string) (Label, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	key = strings.TrimPrefix(key, "chicken")
	if l, ok := aliases[key]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("unknown class %q", name)
}

// LabelAt maps an output index to its label.
func LabelAt(index int) (Label, error) {
	l := Label(index)
	if !l.Valid() {
		return 0, domain.WrapError(domain.ErrLabelMapping, "label at", fmt.Errorf("index %d out of range", index))
	}
	return l, nil
}

// ValidateClasses checks that a class list carried by a model artifact
// names the labels in exactly the order of the output units.
func ValidateClasses(classes []string) error {
	if len(classes) != NumLabels {
		return domain.WrapError(domain.ErrLabelMapping, "validate classes",
			fmt.Errorf("expected %d classes, got %d", NumLabels, len(classes)))
	}
	for i, name := range classes {
		l, err := ParseLabel(name)
		if err != nil {
			return domain.WrapError(domain.ErrLabelMapping, "validate classes", err)
		}
		if int(l) != i {
			return domain.WrapError(domain.ErrLabelMapping, "validate classes",
				fmt.Errorf("class %q at index %d, expected %s", name, i, Label(i)))
		}
	}
	return nil
}
