package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
)

// paramKeywords maps parameter-name stems as they appear in datasheets
// (both languages) onto canonical fact keys. Russian keys are truncated to
// the stem so case endings still match; matching allows a short inflection
// suffix after the stem.
var paramKeywords = map[string]string{
	"расход":           "flow",
	"производительност": "flow",
	"подач":            "flow",
	"flow":             "flow",
	"capacity":         "flow",
	"напор":            "head",
	"head":             "head",
	"давлен":           "pressure",
	"pressure":         "pressure",
	"мощност":          "power",
	"power":            "power",
	"напряжен":         "voltage",
	"voltage":          "voltage",
	"температур":       "temperature",
	"temperature":      "temperature",
	"оборот":           "speed",
	"speed":            "speed",
	"масс":             "mass",
	"weight":           "mass",
	"диаметр":          "diameter",
	"diameter":         "diameter",
	"ду":               "dn",
	"dn":               "dn",
}

// valueUnitRe matches a number followed by a canonical unit token. Runs
// over text that has already been through Text(), so decimals use dots and
// units are canonical. The unit is mandatory: a bare number near a
// parameter name never becomes a fact.
var valueUnitRe = regexp.MustCompile(
	`(-?\d+(?:\.\d+)?)\s*(m3/h|nm3/h|l/min|l/s|rpm|kgf/cm2|kWh|kW|MW|MPa|kPa|GPa|Pa|bar|atm|mmHg|mm|cm|km|m2|m3|kg/m3|t/h|kg|Hz|kHz|kV|mA|°C|m\b|t\b|V\b|A\b)`)

// ExtractNumericFacts scans normalised text for parameter/value pairs.
// When several keywords map to the same canonical parameter, the one that
// appears earliest in the text wins; datasheets list the nominal value
// before ranges and tolerances.
func ExtractNumericFacts(text string) map[string]domain.NumericFact {
	lower := strings.ToLower(text)

	keywords := make([]string, 0, len(paramKeywords))
	for keyword := range paramKeywords {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)

	// Earliest keyword occurrence per canonical parameter.
	at := make(map[string]int)
	for _, keyword := range keywords {
		idx := indexWord(lower, keyword)
		if idx < 0 {
			continue
		}
		canon := paramKeywords[keyword]
		if prev, ok := at[canon]; !ok || idx < prev {
			at[canon] = idx
		}
	}

	facts := make(map[string]domain.NumericFact, len(at))
	for canon, idx := range at {
		// Look for a value within a short window after the parameter name.
		window := text[idx:]
		if len(window) > 120 {
			window = window[:120]
		}
		if nl := strings.IndexByte(window, '\n'); nl >= 0 {
			window = window[:nl]
		}
		m := valueUnitRe.FindStringSubmatch(window)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		facts[canon] = domain.NumericFact{Value: v, Unit: m[2]}
	}

	if len(facts) == 0 {
		return nil
	}
	return facts
}

// indexWord finds keyword at the start of a word in s. Stems of four or
// more runes may be followed by up to three letters of inflection suffix;
// short keys require an exact word boundary.
func indexWord(s, keyword string) int {
	maxSuffix := 0
	if len([]rune(keyword)) >= 4 {
		maxSuffix = 3
	}
	from := 0
	for {
		i := strings.Index(s[from:], keyword)
		if i < 0 {
			return -1
		}
		i += from
		startOK := i == 0 || !isWordRune(decodeLastRune(s[:i]))
		end := i + len(keyword)
		suffix := 0
		for _, r := range s[end:] {
			if !isWordRune(r) {
				break
			}
			suffix++
		}
		if startOK && suffix <= maxSuffix {
			return i
		}
		from = end
	}
}
