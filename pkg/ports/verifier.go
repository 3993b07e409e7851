package ports

import "context"

// VerifyRequest asks the external verifier whether a requirement holds.
type VerifyRequest struct {
	Requirement string         `json:"requirement"`
	Questions   []string       `json:"questions,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// VerifyResult is the verifier's judgment with its self-reported confidence.
type VerifyResult struct {
	Answers    []string `json:"answers"`
	Confidence float64  `json:"confidence"`
	Satisfied  bool     `json:"satisfied"`
}

// SemanticVerifier checks requirements that cannot be evaluated mechanically.
// Any capability satisfying this shape may be substituted: an LLM call, a
// human-review queue, or a rule engine. Callers must treat it as fallible
// and bound it with a timeout; it is never consulted ambiently.
type SemanticVerifier interface {
	Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error)
}
