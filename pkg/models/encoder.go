package models

import "fmt"

// LabelEncoder maps raw stage values to dense class codes in first-seen order.
type LabelEncoder struct {
	classes []int
	codes   map[int]int
}

// NewLabelEncoder returns an empty encoder.
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{codes: make(map[int]int)}
}

// FitLabelEncoder builds an encoder from stages and returns it together with
// the encoded labels.
func FitLabelEncoder(stages []int) (*LabelEncoder, []int) {
	enc := NewLabelEncoder()
	labels := make([]int, len(stages))
	for i, s := range stages {
		labels[i] = enc.add(s)
	}
	return enc, labels
}

// LabelEncoderFromClasses rebuilds an encoder whose code i decodes to classes[i].
func LabelEncoderFromClasses(classes []int) (*LabelEncoder, error) {
	enc := NewLabelEncoder()
	for _, c := range classes {
		if _, dup := enc.codes[c]; dup {
			return nil, fmt.Errorf("duplicate class %d", c)
		}
		enc.add(c)
	}
	return enc, nil
}

func (e *LabelEncoder) add(stage int) int {
	if code, ok := e.codes[stage]; ok {
		return code
	}
	code := len(e.classes)
	e.codes[stage] = code
	e.classes = append(e.classes, stage)
	return code
}

// Encode returns the class code for a stage.
func (e *LabelEncoder) Encode(stage int) (int, error) {
	code, ok := e.codes[stage]
	if !ok {
		return 0, fmt.Errorf("unknown stage %d", stage)
	}
	return code, nil
}

// Decode returns the stage for a class code.
func (e *LabelEncoder) Decode(code int) (int, error) {
	if code < 0 || code >= len(e.classes) {
		return 0, fmt.Errorf("class code %d out of range [0, %d)", code, len(e.classes))
	}
	return e.classes[code], nil
}

// Classes returns the stages in code order.
func (e *LabelEncoder) Classes() []int {
	out := make([]int, len(e.classes))
	copy(out, e.classes)
	return out
}

// Len returns the number of distinct stages.
func (e *LabelEncoder) Len() int {
	return len(e.classes)
}
