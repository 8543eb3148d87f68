package registry

import (
	"sort"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// Capability match weights. Task type and success rate always apply;
// language and specialization weights only enter the normalization when
// the query requires them.
const (
	weightTaskType        = 0.3
	weightLanguages       = 0.3
	weightSpecializations = 0.2
	weightSuccessRate     = 0.2
)

// successRateEpsilon is the minimum success-rate difference that decides
// an ordering; closer than this, match score breaks the tie.
const successRateEpsilon = 0.01

// ScoreCapabilityMatch computes the weighted blend of capability fit and
// historical success for one agent against a query. The agent is assumed
// to already satisfy the query's hard filters, so the task-type component
// is always full.
func ScoreCapabilityMatch(profile *models.AgentProfile, query models.CapabilityQuery) float64 {
	score := weightTaskType
	total := weightTaskType + weightSuccessRate

	if len(query.Languages) > 0 {
		matched := countMatches(profile.Capabilities.Languages, query.Languages)
		score += weightLanguages * float64(matched) / float64(len(query.Languages))
		total += weightLanguages
	}
	if len(query.Specializations) > 0 {
		matched := countMatches(profile.Capabilities.Specializations, query.Specializations)
		score += weightSpecializations * float64(matched) / float64(len(query.Specializations))
		total += weightSpecializations
	}

	score += weightSuccessRate * profile.Performance.SuccessRate

	return score / total
}

// SortScoredAgents orders matches best-first: by success rate when the
// difference is meaningful, otherwise by match score.
func SortScoredAgents(agents []models.ScoredAgent) {
	sort.SliceStable(agents, func(i, j int) bool {
		a, b := agents[i], agents[j]
		diff := b.Profile.Performance.SuccessRate - a.Profile.Performance.SuccessRate
		if diff > successRateEpsilon || diff < -successRateEpsilon {
			return diff < 0
		}
		return a.MatchScore > b.MatchScore
	})
}

func countMatches(have, want []string) int {
	matched := 0
	for _, w := range want {
		for _, h := range have {
			if h == w {
				matched++
				break
			}
		}
	}
	return matched
}

func containsAll(have, want []string) bool {
	return countMatches(have, want) == len(want)
}
