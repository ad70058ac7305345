package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ComponentType names one slice of generated analysis for a subject.
// The set of values is closed; use ParseComponentType to convert input.
type ComponentType string

// Component types, grouped by the compute class that generates them.
const (
	// fast class
	PlayTips               ComponentType = "play_tips"
	MulliganConsiderations ComponentType = "mulligan_considerations"
	RulesClarifications    ComponentType = "rules_clarifications"
	ComboSuggestions       ComponentType = "combo_suggestions"
	FormatAnalysis         ComponentType = "format_analysis"
	SynergyAnalysis        ComponentType = "synergy_analysis"
	CompetitiveAnalysis    ComponentType = "competitive_analysis"
	TacticalAnalysis       ComponentType = "tactical_analysis"

	// deep class
	ThematicAnalysis     ComponentType = "thematic_analysis"
	HistoricalContext    ComponentType = "historical_context"
	ArtFlavorAnalysis    ComponentType = "art_flavor_analysis"
	DesignPhilosophy     ComponentType = "design_philosophy"
	AdvancedInteractions ComponentType = "advanced_interactions"
	MetaPositioning      ComponentType = "meta_positioning"

	// general class
	BudgetAlternatives   ComponentType = "budget_alternatives"
	DeckArchetypes       ComponentType = "deck_archetypes"
	NewPlayerGuide       ComponentType = "new_player_guide"
	SideboardGuide       ComponentType = "sideboard_guide"
	PowerLevelAssessment ComponentType = "power_level_assessment"
	InvestmentOutlook    ComponentType = "investment_outlook"
)

// ComponentClass partitions component types by the worker resources needed
// to generate them.
type ComponentClass string

const (
	// ClassFast covers components suited to accelerated, low-latency workers.
	ClassFast ComponentClass = "fast"
	// ClassDeep covers components that need a high-memory worker.
	ClassDeep ComponentClass = "deep"
	// ClassGeneral covers components any worker can generate.
	ClassGeneral ComponentClass = "general"
)

// MaxComponentsPerTask bounds how many components a single task carries.
const MaxComponentsPerTask = 3

var componentClasses = map[ComponentClass][]ComponentType{
	ClassFast: {
		PlayTips, MulliganConsiderations, RulesClarifications, ComboSuggestions,
		FormatAnalysis, SynergyAnalysis, CompetitiveAnalysis, TacticalAnalysis,
	},
	ClassDeep: {
		ThematicAnalysis, HistoricalContext, ArtFlavorAnalysis,
		DesignPhilosophy, AdvancedInteractions, MetaPositioning,
	},
	ClassGeneral: {
		BudgetAlternatives, DeckArchetypes, NewPlayerGuide,
		SideboardGuide, PowerLevelAssessment, InvestmentOutlook,
	},
}

// classOrder fixes the iteration order over classes.
var classOrder = []ComponentClass{ClassFast, ClassDeep, ClassGeneral}

// RequiredComponents is the authoritative list of component types a subject
// needs before it counts as fully analyzed. Completion checks compare
// against this list, never against a count.
var RequiredComponents = func() []ComponentType {
	var all []ComponentType
	for _, class := range classOrder {
		all = append(all, componentClasses[class]...)
	}
	return all
}()

var componentIndex = func() map[ComponentType]ComponentClass {
	idx := make(map[ComponentType]ComponentClass, len(RequiredComponents))
	for class, types := range componentClasses {
		for _, t := range types {
			idx[t] = class
		}
	}
	return idx
}()

// ParseComponentType converts s into a ComponentType.
func ParseComponentType(s string) (ComponentType, error) {
	t := ComponentType(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := componentIndex[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownComponent, s)
	}
	return t, nil
}

// ParseComponentTypes converts a list of strings, failing on the first
// unknown entry. Duplicates are removed while preserving order.
func ParseComponentTypes(values []string) ([]ComponentType, error) {
	out := make([]ComponentType, 0, len(values))
	seen := make(map[ComponentType]struct{}, len(values))
	for _, v := range values {
		t, err := ParseComponentType(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Valid reports whether t is a member of the enumeration.
func (t ComponentType) Valid() bool {
	_, ok := componentIndex[t]
	return ok
}

// Class returns the compute class that generates t.
func (t ComponentType) Class() ComponentClass {
	return componentIndex[t]
}

// String implements fmt.Stringer.
func (t ComponentType) String() string {
	return string(t)
}

// ComponentsInClasses returns every component type belonging to any of the
// given classes, in canonical order.
func ComponentsInClasses(classes []ComponentClass) []ComponentType {
	want := make(map[ComponentClass]bool, len(classes))
	for _, c := range classes {
		want[c] = true
	}
	var out []ComponentType
	for _, t := range RequiredComponents {
		if want[t.Class()] {
			out = append(out, t)
		}
	}
	return out
}

// MissingComponents returns the required component types absent from
// present, in canonical order.
func MissingComponents(present map[ComponentType]struct{}) []ComponentType {
	var out []ComponentType
	for _, t := range RequiredComponents {
		if _, ok := present[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// CoversRequired reports whether present is a superset of RequiredComponents.
func CoversRequired(present map[ComponentType]struct{}) bool {
	for _, t := range RequiredComponents {
		if _, ok := present[t]; !ok {
			return false
		}
	}
	return true
}

// CountRequired returns how many of the required component types are in present.
func CountRequired(present map[ComponentType]struct{}) int {
	n := 0
	for _, t := range RequiredComponents {
		if _, ok := present[t]; ok {
			n++
		}
	}
	return n
}

// Intersect returns the members of a that also appear in b, keeping a's
// order and stopping after limit entries when limit > 0.
func Intersect(a, b []ComponentType, limit int) []ComponentType {
	inB := make(map[ComponentType]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	var out []ComponentType
	for _, t := range a {
		if _, ok := inB[t]; !ok {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// SortComponents orders types canonically, matching RequiredComponents.
func SortComponents(types []ComponentType) {
	pos := make(map[ComponentType]int, len(RequiredComponents))
	for i, t := range RequiredComponents {
		pos[t] = i
	}
	sort.SliceStable(types, func(i, j int) bool {
		pi, iok := pos[types[i]]
		pj, jok := pos[types[j]]
		if iok != jok {
			return iok
		}
		if !iok {
			return types[i] < types[j]
		}
		return pi < pj
	})
}

// ComponentStrings converts component types to plain strings.
func ComponentStrings(types []ComponentType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
