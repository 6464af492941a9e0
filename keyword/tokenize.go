package keyword

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’.][\p{L}\p{N}]+)*`)

// Stop words carry no ranking signal.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "what": true, "which": true, "how": true,
	"were": true, "been": true, "has": true, "had": true, "its": true, "our": true,
}

// Tokenize lowercases text and splits it into index terms, dropping stop words.
func Tokenize(text string) []string {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if !stopWords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}
