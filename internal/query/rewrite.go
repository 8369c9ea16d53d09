// Package query turns a raw user question into a retrieval plan: a set of
// rewrites carrying bilingual synonym expansions, an intent label, and any
// regulatory references spotted in the text. Everything here is
// deterministic; the same query always produces the same plan.
package query

import (
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/normalize"
)

// Rewrite is one variant of the query sent to retrieval. The original
// query keeps confidence 1; expansions carry less weight so a synonym
// cannot outrank a literal match.
type Rewrite struct {
	Text       string
	Confidence float64
}

// Plan is the full analysis of one query.
type Plan struct {
	Original   string
	Normalized string
	Language   string
	Rewrites   []Rewrite
	Intent     domain.Intent
	IntentConf float64
	References []domain.DocReference
}

// synonyms maps terms to their cross-language and domain equivalents.
// Engineering archives mix Russian and English freely; a query in one
// language must find evidence written in the other.
var synonyms = map[string][]string{
	// Equipment
	"насос":          {"pump"},
	"pump":           {"насос"},
	"клапан":         {"valve", "арматура"},
	"valve":          {"клапан"},
	"задвижка":       {"gate valve", "клапан"},
	"компрессор":     {"compressor"},
	"compressor":     {"компрессор"},
	"вентилятор":     {"fan"},
	"fan":            {"вентилятор"},
	"теплообменник":  {"heat exchanger"},
	"heat exchanger": {"теплообменник"},
	"резервуар":      {"tank", "ёмкость"},
	"tank":           {"резервуар"},
	"трубопровод":    {"piping", "pipeline"},
	"piping":         {"трубопровод"},
	"pipeline":       {"трубопровод"},
	"кабель":         {"cable"},
	"cable":          {"кабель"},
	"трансформатор":  {"transformer"},
	"transformer":    {"трансформатор"},
	"двигатель":      {"motor", "электродвигатель"},
	"motor":          {"двигатель"},
	"котел":          {"boiler"},
	"boiler":         {"котел"},
	"фильтр":         {"filter"},
	"filter":         {"фильтр"},

	// Parameters
	"расход":        {"flow rate", "производительность"},
	"flow":          {"расход"},
	"напор":         {"head"},
	"head":          {"напор"},
	"давление":      {"pressure"},
	"pressure":      {"давление"},
	"мощность":      {"power"},
	"power":         {"мощность"},
	"температура":   {"temperature"},
	"temperature":   {"температура"},
	"напряжение":    {"voltage"},
	"voltage":       {"напряжение"},
	"диаметр":       {"diameter"},
	"diameter":      {"диаметр"},

	// Document and process vocabulary
	"требования":    {"requirements"},
	"requirements":  {"требования"},
	"монтаж":        {"installation", "erection"},
	"installation":  {"монтаж"},
	"испытание":     {"test", "testing"},
	"испытания":     {"tests", "testing"},
	"testing":       {"испытания"},
	"чертеж":        {"drawing"},
	"drawing":       {"чертеж"},
	"схема":         {"diagram", "scheme"},
	"diagram":       {"схема"},
	"спецификация":  {"specification"},
	"specification": {"спецификация"},
	"изоляция":      {"insulation"},
	"insulation":    {"изоляция"},
	"заземление":    {"grounding", "earthing"},
	"grounding":     {"заземление"},
	"сварка":        {"welding"},
	"welding":       {"сварка"},
	"бетон":         {"concrete"},
	"concrete":      {"бетон"},
	"фундамент":     {"foundation"},
	"foundation":    {"фундамент"},
	"вентиляция":    {"ventilation"},
	"ventilation":   {"вентиляция"},
	"отопление":     {"heating"},
	"heating":       {"отопление"},
	"водоснабжение": {"water supply"},
	"пожаротушение": {"fire fighting", "fire suppression"},
	"освещение":     {"lighting"},
	"lighting":      {"освещение"},
}

// maxRewrites caps the rewrite set; retrieval fans out per rewrite and the
// tail synonyms add noise faster than recall.
const maxRewrites = 4

// Rewriter builds query plans, caching them by normalized query text.
type Rewriter struct {
	cache *lru.Cache[string, *Plan]
}

// NewRewriter creates a rewriter with a plan cache of the given size.
func NewRewriter(cacheSize int) (*Rewriter, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *Plan](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Rewriter{cache: cache}, nil
}

// citationSpacingRe matches a standard citation with stray spacing around
// the year dash, e.g. "ГОСТ  21.201 - 2011".
var citationSpacingRe = regexp.MustCompile(
	`(ГОСТ\s+Р|ГОСТ|ОСТ|СП|СНиП|СанПиН|ФНП|ПУЭ|ПБ|НПБ|СТО|РД|ТУ|ISO|IEC|EN|ASME|API|DIN)\s+(\d[\d.]*)\s*-\s*(\d{2,4})`)

// canonicalizeCitations collapses spacing inside standard citations so the
// reference extractor and lexical search see the canonical form.
func canonicalizeCitations(s string) string {
	return citationSpacingRe.ReplaceAllString(s, "$1 $2-$3")
}

// Analyze produces the plan for a query.
func (r *Rewriter) Analyze(raw string) *Plan {
	normalized := canonicalizeCitations(normalize.Text(raw))
	if cached, ok := r.cache.Get(normalized); ok {
		return cached
	}

	plan := &Plan{
		Original:   raw,
		Normalized: normalized,
		Language:   normalize.DetectLanguage(normalized),
		References: normalize.ExtractReferences(normalized),
	}
	plan.Intent, plan.IntentConf = Classify(normalized, plan.References)
	plan.Rewrites = buildRewrites(normalized, plan.Intent)

	r.cache.Add(normalized, plan)
	return plan
}

// buildRewrites returns the original query first, then an intent
// reformulation when one applies, then synonym expansions in deterministic
// order.
func buildRewrites(normalized string, intent domain.Intent) []Rewrite {
	rewrites := []Rewrite{{Text: normalized, Confidence: 1.0}}

	if reform := reformulate(normalized, intent); reform != "" {
		rewrites = append(rewrites, Rewrite{Text: reform, Confidence: 0.7})
	}

	lower := strings.ToLower(normalized)
	words := strings.Fields(lower)

	// Collect applicable expansions keyed by the term they replace.
	var terms []string
	for _, w := range words {
		if _, ok := synonyms[w]; ok {
			terms = append(terms, w)
		}
	}
	sort.Strings(terms)

	seen := map[string]bool{lower: true}
	for _, term := range terms {
		for _, syn := range synonyms[term] {
			variant := replaceWord(lower, term, syn)
			if seen[variant] {
				continue
			}
			seen[variant] = true
			rewrites = append(rewrites, Rewrite{Text: variant, Confidence: 0.8})
			if len(rewrites) >= maxRewrites {
				return rewrites
			}
		}
	}
	return rewrites
}

// reformulate prepends an anchor term the target corpus uses for the
// intent, nudging lexical search toward the right section kind.
func reformulate(normalized string, intent domain.Intent) string {
	lower := strings.ToLower(normalized)
	switch intent {
	case domain.IntentDefinition:
		if !strings.Contains(lower, "определение") {
			return "определение " + lower
		}
	case domain.IntentScope:
		if !strings.Contains(lower, "область применения") {
			return "область применения " + lower
		}
	case domain.IntentRequirement:
		if !strings.Contains(lower, "требован") {
			return "требования " + lower
		}
	}
	return ""
}

func replaceWord(s, from, to string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == from {
			words[i] = to
		}
	}
	return strings.Join(words, " ")
}
