package domain

// ConfidenceKind discriminates the Confidence sum type.
type ConfidenceKind string

const (
	ConfidenceAbsent        ConfidenceKind = "absent"
	ConfidenceDeterministic ConfidenceKind = "deterministic"
	ConfidenceBounded       ConfidenceKind = "bounded"
	ConfidenceMeasured      ConfidenceKind = "measured"
	ConfidenceDerived       ConfidenceKind = "derived"
)

// Confidence describes how much a primitive's output can be trusted.
// Exactly one variant's fields are meaningful, selected by Kind.
type Confidence struct {
	Kind ConfidenceKind `json:"kind" yaml:"kind"`

	// absent / deterministic
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// deterministic / measured / derived
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`

	// bounded
	Low   float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High  float64 `json:"high,omitempty" yaml:"high,omitempty"`
	Basis string  `json:"basis,omitempty" yaml:"basis,omitempty"`

	// measured
	Sample int     `json:"sample,omitempty" yaml:"sample,omitempty"`
	CILow  float64 `json:"ci_low,omitempty" yaml:"ci_low,omitempty"`
	CIHigh float64 `json:"ci_high,omitempty" yaml:"ci_high,omitempty"`

	// derived
	Formula string   `json:"formula,omitempty" yaml:"formula,omitempty"`
	Inputs  []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Absent marks a primitive whose confidence is unknown.
func Absent(reason string) Confidence {
	return Confidence{Kind: ConfidenceAbsent, Reason: reason}
}

// Deterministic marks a primitive whose outcome is fully determined by its inputs.
func Deterministic(value float64, reason string) Confidence {
	return Confidence{Kind: ConfidenceDeterministic, Value: value, Reason: reason}
}

// Bounded marks a primitive with a known confidence interval but no point estimate.
func Bounded(low, high float64, basis string) Confidence {
	return Confidence{Kind: ConfidenceBounded, Low: low, High: high, Basis: basis}
}

// Measured marks a primitive whose confidence was estimated empirically.
func Measured(value float64, sample int, ciLow, ciHigh float64) Confidence {
	return Confidence{Kind: ConfidenceMeasured, Value: value, Sample: sample, CILow: ciLow, CIHigh: ciHigh}
}

// Derived marks a confidence computed from other primitives' confidences.
func Derived(value float64, formula string, inputs []string) Confidence {
	return Confidence{Kind: ConfidenceDerived, Value: value, Formula: formula, Inputs: inputs}
}
