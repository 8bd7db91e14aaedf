package trust

import "github.com/lofthouse/trustdesk/internal/profiles"

// GatePolicy defines the eligibility requirements for entering the manual
// validation workflow.
type GatePolicy struct {
	// MinCompositeScore is the minimum upstream 0-850 score.
	MinCompositeScore int
}

// DefaultPolicy requires the standard production threshold.
var DefaultPolicy = &GatePolicy{
	MinCompositeScore: 600,
}

// DemoPolicy is relaxed for demo/development mode.
var DemoPolicy = &GatePolicy{
	MinCompositeScore: 300,
}

// Gate decides whether a user may request manual validation. It holds no
// state of its own; every check reads the caller-supplied signals.
type Gate struct {
	policy *GatePolicy
}

// NewGate creates a gate with the given policy, or DefaultPolicy if nil.
func NewGate(policy *GatePolicy) *Gate {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &Gate{policy: policy}
}

// Check evaluates the eligibility rules in order and returns the first
// failing rule's error, or nil if the user may submit a request.
func (g *Gate) Check(elig *profiles.Eligibility, hasActiveRequest bool) error {
	if !elig.AutomatedVerified {
		return ErrNotAutomatedVerified
	}
	if elig.TrustVerified {
		return ErrAlreadyVerified
	}
	if elig.CompositeScore < g.policy.MinCompositeScore {
		return ErrScoreTooLow
	}
	if hasActiveRequest {
		return ErrRequestInFlight
	}
	return nil
}
