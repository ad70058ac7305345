package domain

// CoherenceGroup names a set of component types whose conclusions must not
// contradict each other.
type CoherenceGroup string

// Coherence groups.
const (
	GroupPowerAssessment   CoherenceGroup = "power_assessment"
	GroupDeckBuilding      CoherenceGroup = "deck_building"
	GroupGameplayMechanics CoherenceGroup = "gameplay_mechanics"
	GroupEconomicAnalysis  CoherenceGroup = "economic_analysis"
	GroupThematicDesign    CoherenceGroup = "thematic_design"
)

var coherenceGroups = map[CoherenceGroup][]ComponentType{
	GroupPowerAssessment:   {PowerLevelAssessment, CompetitiveAnalysis, MetaPositioning},
	GroupDeckBuilding:      {DeckArchetypes, SynergyAnalysis, ComboSuggestions},
	GroupGameplayMechanics: {PlayTips, TacticalAnalysis, AdvancedInteractions},
	GroupEconomicAnalysis:  {InvestmentOutlook, BudgetAlternatives, FormatAnalysis},
	GroupThematicDesign:    {ThematicAnalysis, ArtFlavorAnalysis, DesignPhilosophy, HistoricalContext},
}

var groupIndex = func() map[ComponentType]CoherenceGroup {
	idx := make(map[ComponentType]CoherenceGroup)
	for g, members := range coherenceGroups {
		for _, t := range members {
			idx[t] = g
		}
	}
	return idx
}()

// GroupOf returns the coherence group of t, or false if t stands alone.
func GroupOf(t ComponentType) (CoherenceGroup, bool) {
	g, ok := groupIndex[t]
	return g, ok
}

// GroupMembers returns the component types in g.
func GroupMembers(g CoherenceGroup) []ComponentType {
	return append([]ComponentType(nil), coherenceGroups[g]...)
}
