package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
)

// Russian regulatory document families recognised in text and queries.
// СТО and РД appear in vendor documentation alongside the state standards.
var referenceRe = regexp.MustCompile(
	`(?i)\b(ГОСТ(?:\s+Р)?|СП|СНиП|ФНП|ПУЭ|СТО|РД)\s+(\d[\d.\-]*\d|\d+)(?:[-–](\d{2,4}))?`)

// clauseRe matches clause references like "п. 5.4.1", "пункт 7.2", "разд. 3".
var clauseRe = regexp.MustCompile(
	`(?i)\b(?:п\.|пункт|пп\.|разд\.|раздел)\s*(\d+(?:\.\d+)*)`)

// ExtractReferences finds regulatory document references in text. The year
// suffix is split off when the number carries one ("ГОСТ 12.1.004-91"), and
// a clause reference that follows within the same sentence fragment is
// attached to the preceding document.
func ExtractReferences(text string) []domain.DocReference {
	matches := referenceRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]domain.DocReference, 0, len(matches))
	for i, m := range matches {
		family := canonicalFamily(text[m[2]:m[3]])
		number := text[m[4]:m[5]]
		ref := domain.DocReference{Family: family, Number: number}

		if m[6] >= 0 {
			if y, err := strconv.Atoi(text[m[6]:m[7]]); err == nil {
				ref.Year = expandYear(y)
			}
		} else if dash := strings.LastIndexAny(number, "-–"); dash > 0 {
			// Numbers like 12.1.004-91 carry the year after the last dash.
			if y, err := strconv.Atoi(number[dash+1:]); err == nil && len(number[dash+1:]) >= 2 {
				ref.Number = number[:dash]
				ref.Year = expandYear(y)
			}
		}

		// Attach a clause that appears between this reference and the next.
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		window := text[m[1]:min(end, m[1]+80)]
		if stop := strings.IndexAny(window, ".\n"); stop >= 0 && !strings.HasPrefix(window[stop:], ".") {
			window = window[:stop]
		}
		if cm := clauseRe.FindStringSubmatch(window); cm != nil {
			ref.Clause = cm[1]
		}

		refs = append(refs, ref)
	}
	return dedupeRefs(refs)
}

func canonicalFamily(raw string) string {
	up := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	if up == "ГОСТ Р" {
		return "ГОСТ Р"
	}
	return up
}

// expandYear maps two-digit years onto the century they belong to. Soviet
// and Russian standards use two digits up to the late nineties.
func expandYear(y int) string {
	switch {
	case y >= 1000:
		return strconv.Itoa(y)
	case y >= 30:
		return strconv.Itoa(1900 + y)
	default:
		return strconv.Itoa(2000 + y)
	}
}

func dedupeRefs(refs []domain.DocReference) []domain.DocReference {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		key := r.Family + "|" + r.Number + "|" + r.Year + "|" + r.Clause
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
