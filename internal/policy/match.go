package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// keywordSet matches whole-word keywords case-insensitively.
type keywordSet struct {
	re *regexp.Regexp
}

func newKeywordSet(words []string) keywordSet {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return keywordSet{}
	}
	// Boundaries are spelled out so keywords ending in punctuation still match.
	return keywordSet{re: regexp.MustCompile(`(?i)(?:^|[^\pL\pN_])(` + strings.Join(quoted, "|") + `)(?:$|[^\pL\pN_])`)}
}

// find returns the distinct keywords present in s, in order of first appearance.
func (k keywordSet) find(s string) []string {
	if k.re == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	// Matches consume one boundary character, so step back over it to let
	// adjacent keywords both match.
	for start := 0; start < len(s); {
		loc := k.re.FindStringSubmatchIndex(s[start:])
		if loc == nil {
			break
		}
		word := strings.ToLower(s[start+loc[2] : start+loc[3]])
		if !seen[word] {
			seen[word] = true
			out = append(out, word)
		}
		start += loc[3]
	}
	return out
}

// patternSet is a list of compiled regular expressions.
type patternSet []*regexp.Regexp

func compilePatterns(patterns []string) (patternSet, error) {
	out := make(patternSet, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// find returns the first match of every pattern that matches s.
func (ps patternSet) find(s string) []string {
	var out []string
	for _, re := range ps {
		if m := re.FindString(s); m != "" {
			out = append(out, strings.ToLower(strings.TrimSpace(m)))
		}
	}
	return out
}
