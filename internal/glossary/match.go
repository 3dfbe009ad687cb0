package glossary

import (
	"regexp"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/traduki/traduki/internal/storage"
)

// matchThreshold is the minimum Levenshtein similarity ratio for a token (or
// token window) to count as an occurrence of a glossary term.
const matchThreshold = 0.8

var tokenPattern = regexp.MustCompile(`[\pL\pN]+(?:['-][\pL\pN]+)*`)

// Match is one glossary term found in an input text. Text holds the term as
// it appears in the input, original casing intact, so prompts can instruct
// the model to mirror the writer's capitalization.
type Match struct {
	Text  string
	Entry storage.GlossaryEntry
}

type token struct {
	text  string
	lower string
}

// FindMatches scans text for occurrences of each entry's source term. A
// single-word term is compared against every token; a multi-word term is
// compared against a sliding window of the same width. The first occurrence
// per term wins, and each entry contributes at most one match.
func FindMatches(text string, entries []storage.GlossaryEntry) []Match {
	raw := tokenPattern.FindAllString(text, -1)
	toks := make([]token, len(raw))
	for i, w := range raw {
		toks[i] = token{text: w, lower: strings.ToLower(w)}
	}

	var out []Match
	for _, e := range entries {
		words := strings.Fields(e.SourceText)
		if found, ok := findTerm(toks, words); ok {
			out = append(out, Match{Text: found, Entry: e})
		}
	}
	return out
}

func findTerm(toks []token, words []string) (string, bool) {
	n := len(words)
	if n == 0 || len(toks) < n {
		return "", false
	}

	if n == 1 {
		for _, t := range toks {
			if levenshtein.Similarity(t.lower, words[0], nil) >= matchThreshold {
				return t.text, true
			}
		}
		return "", false
	}

	term := strings.Join(words, " ")
	for i := 0; i+n <= len(toks); i++ {
		lowers := make([]string, n)
		for j := 0; j < n; j++ {
			lowers[j] = toks[i+j].lower
		}
		if levenshtein.Similarity(strings.Join(lowers, " "), term, nil) >= matchThreshold {
			origs := make([]string, n)
			for j := 0; j < n; j++ {
				origs[j] = toks[i+j].text
			}
			return strings.Join(origs, " "), true
		}
	}
	return "", false
}
