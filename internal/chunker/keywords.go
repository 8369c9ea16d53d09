package chunker

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords covers the high-frequency function words of both languages plus
// the boilerplate every requirements document repeats.
var stopwords = map[string]bool{
	// Russian
	"и": true, "в": true, "на": true, "с": true, "по": true, "для": true,
	"не": true, "от": true, "до": true, "из": true, "или": true, "при": true,
	"что": true, "как": true, "быть": true, "также": true, "его": true,
	"этот": true, "это": true, "который": true, "которые": true, "более": true,
	"менее": true, "должен": true, "должна": true, "должно": true,
	"должны": true, "может": true, "могут": true, "следует": true,
	// English
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true,
	"and": true, "or": true, "for": true, "with": true, "on": true,
	"is": true, "are": true, "be": true, "by": true, "as": true, "at": true,
	"shall": true, "must": true, "should": true, "this": true, "that": true,
}

// topKeywords returns the n most frequent non-stopword terms of the text,
// lower-cased, ties broken alphabetically for determinism.
func topKeywords(text string, n int) []string {
	freq := make(map[string]int)
	for _, word := range splitWords(text) {
		w := strings.ToLower(word)
		if len([]rune(w)) < 3 || stopwords[w] || isNumeric(w) {
			continue
		}
		freq[w]++
	}
	if len(freq) == 0 {
		return nil
	}

	terms := make([]string, 0, len(freq))
	for w := range freq {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return false
		}
	}
	return true
}
