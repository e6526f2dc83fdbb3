// Package detection defines the pluggable predicate deciding whether an
// audited frame belongs to someone other than the enrolled owner. The
// shipped policy is an explicit placeholder that fires with a configured
// probability; a real similarity model can replace it without touching the
// scheduler.
package detection

import (
	"math/rand"

	"github.com/pintubhai440/secure-recoder/internal/media"
)

// Policy evaluates an audited frame against the enrolled reference and
// reports whether it constitutes a detection.
type Policy interface {
	Evaluate(frame *media.Frame, reference []byte) bool
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc func(frame *media.Frame, reference []byte) bool

// Evaluate calls the wrapped function.
func (f PolicyFunc) Evaluate(frame *media.Frame, reference []byte) bool {
	return f(frame, reference)
}

// RandomPolicy is the placeholder detection heuristic: every evaluated frame
// triggers with a fixed probability, independent of its content. Production
// deployments need a real similarity model here.
type RandomPolicy struct {
	// chance is the detection probability per evaluation, in [0, 1].
	chance float64
}

// NewRandomPolicy creates the placeholder policy with the given per-audit
// detection probability.
func NewRandomPolicy(chance float64) *RandomPolicy {
	if chance < 0 {
		chance = 0
	}

	if chance > 1 {
		chance = 1
	}

	return &RandomPolicy{
		chance: chance,
	}
}

// Evaluate ignores the frame contents and rolls the configured probability.
// Empty frames and missing references never trigger.
func (p *RandomPolicy) Evaluate(frame *media.Frame, reference []byte) bool {
	if frame.Empty() || len(reference) == 0 {
		return false
	}

	return rand.Float64() < p.chance
}
