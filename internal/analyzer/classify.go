package analyzer

import (
	"strings"

	"github.com/nethalo/sqlforge/internal/model"
)

// outerMarkers disqualify a join from counting toward the entity count.
var outerMarkers = []string{"LEFT", "RIGHT", "OUTER"}

// Qualifies reports whether a join kind counts as an entity-multiplying join.
// This looks at the declared kind text only.
func Qualifies(kind string) bool {
	k := strings.ToUpper(kind)
	for _, m := range outerMarkers {
		if strings.Contains(k, m) {
			return false
		}
	}
	return true
}

// Classify derives the tier and effective entity count from a join list.
func Classify(joins []model.Join) (model.Tier, int) {
	count := 1
	for _, j := range joins {
		if Qualifies(j.Kind) {
			count++
		}
	}

	switch {
	case count <= 1:
		return model.TierA, count
	case count == 2:
		return model.TierB, count
	default:
		return model.TierC, count
	}
}
