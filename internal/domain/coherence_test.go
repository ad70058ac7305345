package domain

import "testing"

func TestGroupOf(t *testing.T) {
	tests := []struct {
		component ComponentType
		group     CoherenceGroup
		grouped   bool
	}{
		{PowerLevelAssessment, GroupPowerAssessment, true},
		{SynergyAnalysis, GroupDeckBuilding, true},
		{AdvancedInteractions, GroupGameplayMechanics, true},
		{FormatAnalysis, GroupEconomicAnalysis, true},
		{HistoricalContext, GroupThematicDesign, true},
		{MulliganConsiderations, "", false},
		{RulesClarifications, "", false},
		{NewPlayerGuide, "", false},
		{SideboardGuide, "", false},
		{ComponentType("unknown"), "", false},
	}
	for _, tt := range tests {
		g, ok := GroupOf(tt.component)
		if ok != tt.grouped || g != tt.group {
			t.Errorf("GroupOf(%s) = %q, %v; want %q, %v", tt.component, g, ok, tt.group, tt.grouped)
		}
	}
}

func TestGroupMembers_EveryMemberIsRequired(t *testing.T) {
	seen := make(map[ComponentType]bool)
	for g := range coherenceGroups {
		for _, m := range GroupMembers(g) {
			if !m.Valid() {
				t.Errorf("group %s has unknown member %s", g, m)
			}
			if seen[m] {
				t.Errorf("component %s belongs to more than one group", m)
			}
			seen[m] = true
		}
	}
	if len(seen) != 16 {
		t.Errorf("grouped components = %d, want 16", len(seen))
	}
}
