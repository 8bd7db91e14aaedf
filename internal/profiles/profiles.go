// Package profiles is the engine's view of the external identity/profile
// store. The engine reads prerequisite signals (automated verification flag,
// composite score) and writes exactly one thing back: the trust-verified flag
// plus agent-assigned score on manual approval. Profile ownership stays with
// the identity service; everything here is a weak reference by user id.
package profiles

import (
	"context"
	"errors"
)

var ErrProfileNotFound = errors.New("profile not found")

// Eligibility is the subset of a user profile the workflow engine consumes.
type Eligibility struct {
	UserID            string `json:"userId"`
	AutomatedVerified bool   `json:"automatedVerified"` // Document OCR / face-match providers passed
	CompositeScore    int    `json:"compositeScore"`    // Upstream 0-850 composite
	TrustVerified     bool   `json:"trustVerified"`     // Set by manual approval
	AgentScore        int    `json:"agentScore"`        // 0-100, set on manual approval
}

// Store reads eligibility signals and records approval outcomes.
type Store interface {
	Eligibility(ctx context.Context, userID string) (*Eligibility, error)
	// SetTrustVerified marks a user trust-verified with the agent-assigned
	// 0-100 score. Called exactly once per approval.
	SetTrustVerified(ctx context.Context, userID string, agentScore int) error
}
