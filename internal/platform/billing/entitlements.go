// Package billing answers plan-based feature checks for an organization.
package billing

import (
	"context"
	"fmt"
)

const (
	FeatureAIGeneration         = "ai-generation"
	FeatureExtendedLogRetention = "extended-log-retention"
)

// Entitlements decides whether an organization may use a feature.
type Entitlements interface {
	Check(ctx context.Context, orgID, feature string) (bool, error)
}

// PlanSource returns the organization's current plan tier, or "" when the
// organization does not exist.
type PlanSource interface {
	PlanTier(ctx context.Context, orgID string) (string, error)
}

var planFeatures = map[string]map[string]bool{
	"free": {
		FeatureAIGeneration: true,
	},
	"pro": {
		FeatureAIGeneration:         true,
		FeatureExtendedLogRetention: true,
	},
	"enterprise": {
		FeatureAIGeneration:         true,
		FeatureExtendedLogRetention: true,
	},
}

// PlanEntitlements reads the plan on every call; decisions are never cached.
type PlanEntitlements struct {
	plans PlanSource
}

func NewPlanEntitlements(plans PlanSource) *PlanEntitlements {
	return &PlanEntitlements{plans: plans}
}

func (e *PlanEntitlements) Check(ctx context.Context, orgID, feature string) (bool, error) {
	tier, err := e.plans.PlanTier(ctx, orgID)
	if err != nil {
		return false, fmt.Errorf("load plan for %s: %w", orgID, err)
	}
	return planFeatures[tier][feature], nil
}

// Static allows a fixed feature set for every organization.
type Static map[string]bool

func (s Static) Check(_ context.Context, _ string, feature string) (bool, error) {
	return s[feature], nil
}
