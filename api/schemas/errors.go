// api/schemas/errors.go
package schemas

import "errors"

// Error taxonomy for the triage pipeline. Stages classify failures into one
// of these sentinels (wrapped with context via fmt.Errorf and %w) so the
// pipeline boundary can pick the right fallback without string matching.
var (
	// ErrDegradedInput marks reports the parser could only partially
	// understand. The pipeline continues with reduced confidence.
	ErrDegradedInput = errors.New("degraded input")

	// ErrExternalDependency marks failures of collaborators outside the
	// process: git history, the LLM provider, the database, chat, or the
	// code host. The pipeline degrades or routes to a human.
	ErrExternalDependency = errors.New("external dependency failure")

	// ErrPolicyViolation marks operations blocked by a routing or safety
	// rule, such as draft fix preconditions not holding.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrNoEligibleCandidate marks scoring runs that produced no active
	// developer. It forces human routing and is a signal, not a defect.
	ErrNoEligibleCandidate = errors.New("no eligible candidate")
)
