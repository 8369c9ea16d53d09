// Package answer turns ranked retrieval candidates into a structured,
// cited answer. The layout follows the query intent; the assembler never
// produces an uncited claim and never fabricates text beyond excerpts of
// the evidence itself.
package answer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/query"
	"github.com/altadoc/altadoc/internal/search"
)

// NoEvidenceText is the canned reply when the similarity floor filtered
// every candidate.
const NoEvidenceText = "Недостаточно релевантных данных в проиндексированных документах."

// excerptLimit bounds a quoted excerpt, in runes.
const excerptLimit = 300

// Source is one structured citation.
type Source struct {
	DocNo     string  `json:"doc_no"`
	DocTitle  string  `json:"doc_title,omitempty"`
	Section   string  `json:"section,omitempty"`
	Clause    string  `json:"clause,omitempty"`
	Relevance float64 `json:"relevance_score"`
}

// Citation renders the source in the form used inside answer text.
func (s Source) Citation() string {
	parts := []string{s.DocNo}
	if s.Section != "" {
		parts = append(parts, "разд. "+s.Section)
	}
	if s.Clause != "" {
		parts = append(parts, "п. "+s.Clause)
	}
	return strings.Join(parts, ", ")
}

// Answer is the assembled reply.
type Answer struct {
	Text       string        `json:"text"`
	Intent     domain.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
	Sources    []Source      `json:"sources"`

	// Degraded lists collections whose retrieval failed; confidence is
	// already downgraded for each.
	Degraded []string `json:"degraded_collections,omitempty"`
}

// Assemble builds the answer for one ranked result.
func Assemble(plan *query.Plan, result *search.Result) *Answer {
	if len(result.Candidates) == 0 {
		return &Answer{
			Text:       NoEvidenceText,
			Intent:     plan.Intent,
			Confidence: 0.0,
			Sources:    []Source{},
			Degraded:   result.FailedCollections,
		}
	}

	a := &Answer{
		Intent:   plan.Intent,
		Sources:  sources(result.Candidates),
		Degraded: result.FailedCollections,
	}
	a.Text = compose(plan.Intent, result.Candidates)
	a.Confidence = confidence(result.Candidates, len(result.FailedCollections))
	return a
}

func compose(intent domain.Intent, candidates []*search.Candidate) string {
	top := candidates[0]
	switch intent {
	case domain.IntentDefinition:
		return "Определение:\n" + excerpt(top) + "\n\n" + sourcesBlock(candidates, 3)
	case domain.IntentScope:
		return "Область применения:\n" + excerpt(top) + "\n\n" + sourcesBlock(candidates, 3)
	case domain.IntentRequirement:
		return requirementText(candidates)
	case domain.IntentReference:
		return referenceText(candidates)
	case domain.IntentComparison:
		return comparisonText(candidates)
	case domain.IntentRelevance:
		return relevanceText(candidates)
	default:
		return generalText(candidates)
	}
}

// requirementText leads with the primary requirement and adds up to two
// supporting excerpts.
func requirementText(candidates []*search.Candidate) string {
	var b strings.Builder
	b.WriteString(excerpt(candidates[0]))
	b.WriteString("\n(")
	b.WriteString(sourceOf(candidates[0]).Citation())
	b.WriteString(")")

	for _, c := range supporting(candidates, 2) {
		b.WriteString("\n\nТакже: ")
		b.WriteString(excerpt(c))
		b.WriteString(" (")
		b.WriteString(sourceOf(c).Citation())
		b.WriteString(")")
	}
	return b.String()
}

// referenceText quotes the cited clause from the best direct hit. One
// primary citation, always. The prefix is the bare "DocNo, Clause" form a
// user would write in a reference query, not the long citation.
func referenceText(candidates []*search.Candidate) string {
	primary := candidates[0]
	for _, c := range candidates {
		if c.SearchType == search.SearchReference {
			primary = c
			break
		}
	}
	src := sourceOf(primary)
	prefix := src.DocNo
	if src.Clause != "" {
		prefix += ", " + src.Clause
	} else if src.Section != "" {
		prefix += ", " + src.Section
	}
	return fmt.Sprintf("%s:\n%s", prefix, excerpt(primary))
}

// comparisonText lists excerpts across the top distinct documents.
func comparisonText(candidates []*search.Candidate) string {
	var b strings.Builder
	seen := map[string]bool{}
	for _, c := range candidates {
		docNo := c.Chunk.Common.DocNo
		if seen[docNo] {
			continue
		}
		seen[docNo] = true
		title := c.Chunk.Common.DocTitle
		if title == "" {
			title = docNo
		}
		fmt.Fprintf(&b, "- %s: %s\n", title, excerpt(c))
		if len(seen) >= 3 {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// relevanceText reports the document's edition metadata from the top hit.
func relevanceText(candidates []*search.Candidate) string {
	common := &candidates[0].Chunk.Common
	var b strings.Builder
	fmt.Fprintf(&b, "Документ: %s", common.DocNo)
	if common.Revision != "" {
		fmt.Fprintf(&b, ", ревизия %s", common.Revision)
	}
	if !common.IssuedAt.IsZero() {
		fmt.Fprintf(&b, ", выпуск %s", common.IssuedAt.Format("2006-01-02"))
	}
	b.WriteString("\n")
	b.WriteString(excerpt(candidates[0]))
	return b.String()
}

func generalText(candidates []*search.Candidate) string {
	var b strings.Builder
	b.WriteString(excerpt(candidates[0]))
	for _, c := range supporting(candidates, 2) {
		b.WriteString("\n\n")
		b.WriteString(excerpt(c))
		b.WriteString(" (")
		b.WriteString(sourceOf(c).Citation())
		b.WriteString(")")
	}
	return b.String()
}

// supporting returns up to n candidates after the first, preferring
// distinct documents.
func supporting(candidates []*search.Candidate, n int) []*search.Candidate {
	var out []*search.Candidate
	topDoc := candidates[0].Chunk.Common.DocNo
	for _, c := range candidates[1:] {
		if len(out) >= n {
			break
		}
		if c.Chunk.Common.DocNo == topDoc && len(candidates) > n+1 {
			continue
		}
		out = append(out, c)
	}
	if len(out) < n {
		for _, c := range candidates[1:] {
			if len(out) >= n {
				break
			}
			if !contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

func contains(list []*search.Candidate, c *search.Candidate) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func sourceOf(c *search.Candidate) Source {
	common := &c.Chunk.Common
	return Source{
		DocNo:     common.DocNo,
		DocTitle:  common.DocTitle,
		Section:   common.Section,
		Clause:    common.Clause,
		Relevance: c.Final,
	}
}

func sources(candidates []*search.Candidate) []Source {
	out := make([]Source, len(candidates))
	for i, c := range candidates {
		out[i] = sourceOf(c)
	}
	return out
}

func sourcesBlock(candidates []*search.Candidate, n int) string {
	var b strings.Builder
	b.WriteString("Источники:")
	for i, c := range candidates {
		if i >= n {
			break
		}
		b.WriteString("\n- ")
		b.WriteString(sourceOf(c).Citation())
	}
	return b.String()
}

// excerpt trims a candidate's content to the excerpt limit on a word
// boundary.
func excerpt(c *search.Candidate) string {
	text := strings.TrimSpace(c.Chunk.Common.Content)
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	cut := excerptLimit
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = excerptLimit
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}

// confidence is the clamped mean final score, downgraded for each failed
// collection.
func confidence(candidates []*search.Candidate, failedCollections int) float64 {
	sum := 0.0
	for _, c := range candidates {
		sum += c.Final
	}
	conf := sum / float64(len(candidates))
	conf -= 0.2 * float64(failedCollections)
	if conf < 0.1 {
		return 0.1
	}
	if conf > 0.95 {
		return 0.95
	}
	return conf
}
