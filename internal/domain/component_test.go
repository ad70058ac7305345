package domain

import (
	"errors"
	"testing"
)

func TestRequiredComponents(t *testing.T) {
	t.Parallel()

	if len(RequiredComponents) != 20 {
		t.Fatalf("Expected 20 required components, got %d", len(RequiredComponents))
	}

	seen := make(map[ComponentType]bool)
	for _, c := range RequiredComponents {
		if seen[c] {
			t.Errorf("Duplicate component %s in required list", c)
		}
		seen[c] = true
		if c.Class() == "" {
			t.Errorf("Component %s has no class", c)
		}
	}
}

func TestParseComponentType(t *testing.T) {
	t.Parallel()

	got, err := ParseComponentType(" Play_Tips ")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != PlayTips {
		t.Errorf("Expected %s, got %s", PlayTips, got)
	}

	_, err = ParseComponentType("lore_dump")
	if !errors.Is(err, ErrUnknownComponent) {
		t.Errorf("Expected ErrUnknownComponent, got %v", err)
	}
}

func TestParseComponentTypesDeduplicates(t *testing.T) {
	t.Parallel()

	got, err := ParseComponentTypes([]string{"play_tips", "meta_positioning", "play_tips"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(got) != 2 || got[0] != PlayTips || got[1] != MetaPositioning {
		t.Errorf("Unexpected result %v", got)
	}
}

func TestIntersect(t *testing.T) {
	t.Parallel()

	a := []ComponentType{PlayTips, ThematicAnalysis, DeckArchetypes, SideboardGuide}
	b := []ComponentType{SideboardGuide, DeckArchetypes, PlayTips}

	got := Intersect(a, b, 0)
	if len(got) != 3 || got[0] != PlayTips || got[1] != DeckArchetypes || got[2] != SideboardGuide {
		t.Errorf("Unexpected intersection %v", got)
	}

	limited := Intersect(a, b, 2)
	if len(limited) != 2 {
		t.Errorf("Expected limit of 2, got %v", limited)
	}
}

func TestCoversRequired(t *testing.T) {
	t.Parallel()

	present := make(map[ComponentType]struct{})
	for _, c := range RequiredComponents[:19] {
		present[c] = struct{}{}
	}
	if CoversRequired(present) {
		t.Error("19 of 20 components must not count as complete")
	}
	if n := CountRequired(present); n != 19 {
		t.Errorf("Expected count 19, got %d", n)
	}

	present[RequiredComponents[19]] = struct{}{}
	if !CoversRequired(present) {
		t.Error("Expected full set to cover required components")
	}
}

func TestSortComponents(t *testing.T) {
	t.Parallel()

	types := []ComponentType{InvestmentOutlook, PlayTips, ThematicAnalysis}
	SortComponents(types)
	if types[0] != PlayTips || types[1] != ThematicAnalysis || types[2] != InvestmentOutlook {
		t.Errorf("Unexpected order %v", types)
	}
}
