package billing

import (
	"context"
	"errors"
	"testing"
)

type fakePlans map[string]string

func (f fakePlans) PlanTier(_ context.Context, orgID string) (string, error) {
	if orgID == "broken" {
		return "", errors.New("db down")
	}
	return f[orgID], nil
}

func TestPlanEntitlements_Check(t *testing.T) {
	e := NewPlanEntitlements(fakePlans{"org_free": "free", "org_pro": "pro", "org_ent": "enterprise"})

	tests := []struct {
		org     string
		feature string
		want    bool
		wantErr bool
	}{
		{"org_free", FeatureAIGeneration, true, false},
		{"org_free", FeatureExtendedLogRetention, false, false},
		{"org_pro", FeatureExtendedLogRetention, true, false},
		{"org_ent", FeatureExtendedLogRetention, true, false},
		{"org_missing", FeatureAIGeneration, false, false},
		{"org_pro", "unknown-feature", false, false},
		{"broken", FeatureAIGeneration, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.org+"/"+tt.feature, func(t *testing.T) {
			got, err := e.Check(context.Background(), tt.org, tt.feature)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}
