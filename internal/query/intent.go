package query

import (
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
)

// intentRule scores one intent from marker phrases found in the query.
// Markers are matched against the lowercased normalized query, so both
// inflected Russian stems and English words work as substrings.
type intentRule struct {
	intent  domain.Intent
	markers []string
}

// Rules are checked in order; the first matching rule with the most marker
// hits wins. Analog and reference cues are the strongest signals and sit
// first.
var intentRules = []intentRule{
	{domain.IntentAnalog, []string{
		"аналог", "замен", "подобрать", "equivalent", "analog", "substitute", "replacement",
	}},
	{domain.IntentComparison, []string{
		"сравн", "отличие", "различ", "разница", "versus", " vs ", "compare", "difference",
	}},
	{domain.IntentDefinition, []string{
		"что такое", "что значит", "определение", "расшифр", "термин",
		"what is", "what does", "definition", "meaning of",
	}},
	{domain.IntentScope, []string{
		"область применения", "распространяется", "применяется ли", "для каких",
		"scope", "applicability", "applies to", "covered by",
	}},
	{domain.IntentRequirement, []string{
		"требован", "должен", "должна", "должно", "допускается", "запрещ", "необходимо",
		"норм", "минимальн", "максимальн", "предельн",
		"requirement", "shall", "must", "allowed", "permitted", "minimum", "maximum",
	}},
	{domain.IntentRelevance, []string{
		"актуальн", "действует ли", "отменен", "заменен ли", "статус",
		"in force", "superseded", "withdrawn", "current version", "still valid",
	}},
}

// Classify labels the query with an intent and a confidence in [0.5, 0.95].
func Classify(normalized string, refs []domain.DocReference) (domain.Intent, float64) {
	lower := strings.ToLower(normalized)

	bestIntent := domain.IntentGeneral
	bestHits := 0
	for _, rule := range intentRules {
		hits := 0
		for _, m := range rule.markers {
			if strings.Contains(lower, m) {
				hits++
			}
		}
		if hits > bestHits {
			bestIntent = rule.intent
			bestHits = hits
		}
	}

	if bestHits > 0 {
		conf := 0.7 + 0.1*float64(bestHits-1)
		if conf > 0.95 {
			conf = 0.95
		}
		// A named standard plus a requirement question is still a
		// requirement query; the reference feeds direct lookup separately.
		return bestIntent, conf
	}

	// A query that names a standard without any other phrasing is a
	// citation lookup and gets the top confidence.
	if len(refs) > 0 {
		return domain.IntentReference, 0.95
	}
	return domain.IntentGeneral, 0.5
}
