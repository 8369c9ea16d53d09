// Package normalize prepares extracted document text for chunking and
// indexing. Engineering archives mix Russian and English, OCR output with
// soft hyphens, and measurement units written a dozen different ways; every
// chunk and every query passes through the same normalisation so lexical
// matching stays symmetric. Normalize is idempotent: applying it twice
// yields the same string.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// unitTable maps unit spellings found in Russian engineering documents to
// canonical forms. Longest keys are applied first so "м3/ч" wins over "м3".
var unitTable = []struct {
	from string
	to   string
}{
	{"куб.м/ч", "m3/h"},
	{"м3/час", "m3/h"},
	{"м³/ч", "m3/h"},
	{"м3/ч", "m3/h"},
	{"нм3/ч", "nm3/h"},
	{"л/мин", "l/min"},
	{"л/с", "l/s"},
	{"об/мин", "rpm"},
	{"кгс/см2", "kgf/cm2"},
	{"кгс/см²", "kgf/cm2"},
	{"кВт·ч", "kWh"},
	{"кВтч", "kWh"},
	{"кВт", "kW"},
	{"МВт", "MW"},
	{"МПа", "MPa"},
	{"кПа", "kPa"},
	{"ГПа", "GPa"},
	{"Па", "Pa"},
	{"бар", "bar"},
	{"атм", "atm"},
	{"мм рт.ст.", "mmHg"},
	{"мм", "mm"},
	{"см", "cm"},
	{"км", "km"},
	{"м²", "m2"},
	{"м³", "m3"},
	{"кг/м3", "kg/m3"},
	{"кг/м³", "kg/m3"},
	{"т/ч", "t/h"},
	{"кг", "kg"},
	{"т.", "t"},
	{"м", "m"},
	{"л", "l"},
	{"Гц", "Hz"},
	{"кГц", "kHz"},
	{"В", "V"},
	{"кВ", "kV"},
	{"А", "A"},
	{"мА", "mA"},
	{"°С", "°C"}, // Cyrillic С to Latin C
	{"град.С", "°C"},
	{"гр.С", "°C"},
}

var (
	// Soft hyphen plus the hyphen-newline split OCR produces mid-word.
	softHyphenRe  = regexp.MustCompile(`\x{00AD}`)
	hyphenBreakRe = regexp.MustCompile(`(\p{L})-\s*\n\s*(\p{L})`)

	// A decimal comma between digits, e.g. "1,5 МПа".
	decimalCommaRe = regexp.MustCompile(`(\d),(\d)`)

	multiSpaceRe = regexp.MustCompile(`[ \t]+`)
	multiLineRe  = regexp.MustCompile(`\n{3,}`)
)

// Text applies the full normalisation chain: dehyphenation, whitespace
// collapse, decimal-comma conversion, and unit canonicalisation.
func Text(s string) string {
	s = softHyphenRe.ReplaceAllString(s, "")
	s = hyphenBreakRe.ReplaceAllString(s, "$1$2")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, " ", " ")
	s = decimalCommaRe.ReplaceAllString(s, "$1.$2")
	s = Units(s)
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = multiLineRe.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Units rewrites unit spellings to their canonical forms. Only whole unit
// tokens are replaced; a unit embedded inside a longer word is left alone.
func Units(s string) string {
	for _, u := range unitTable {
		s = replaceUnitToken(s, u.from, u.to)
	}
	return s
}

func replaceUnitToken(s, from, to string) string {
	if !strings.Contains(s, from) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, from)
		if i < 0 {
			b.WriteString(s)
			break
		}
		before := i == 0 || !isWordRune(decodeLastRune(s[:i]))
		afterIdx := i + len(from)
		after := afterIdx >= len(s) || !isWordRune(decodeFirstRune(s[afterIdx:]))
		b.WriteString(s[:i])
		if before && after {
			b.WriteString(to)
		} else {
			b.WriteString(from)
		}
		s = s[afterIdx:]
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func decodeFirstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func decodeLastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}

// DetectLanguage returns "ru" or "en" based on the Cyrillic/Latin letter
// ratio of the text. Mixed text gets the dominant script's code; these two
// tags are what the lexical analyzers and language filters select on.
func DetectLanguage(s string) string {
	var cyr, lat int
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyr++
		case unicode.Is(unicode.Latin, r):
			lat++
		}
	}
	if cyr > lat {
		return "ru"
	}
	return "en"
}
