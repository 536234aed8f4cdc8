package matcher

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/example/clean-matching/internal/models"
)

const (
	maxTokens    = 3
	minTokenRune = 2
)

// AddressTokens splits an address into at most three matching tokens.
// Administrative suffixes are stripped when at least two runes remain, and
// tokens shorter than two runes are dropped.
func AddressTokens(address string, suffixes []string) []string {
	fields := strings.FieldsFunc(address, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	sorted := longestFirst(suffixes)
	out := make([]string, 0, maxTokens)
	for _, f := range fields {
		tok := stripSuffix(f, sorted)
		if utf8.RuneCountInString(tok) < minTokenRune {
			continue
		}
		out = append(out, tok)
		if len(out) == maxTokens {
			break
		}
	}
	return out
}

// TextMatch reports whether any token names one of the provider's service
// areas or appears in its address.
func TextMatch(p *models.Provider, tokens []string, suffixes []string) bool {
	if len(tokens) == 0 {
		return false
	}
	sorted := longestFirst(suffixes)
	for _, tok := range tokens {
		for _, area := range p.ServiceAreas {
			a := stripSuffix(strings.TrimSpace(area), sorted)
			if a != "" && (a == tok || strings.Contains(a, tok) || strings.Contains(tok, a)) {
				return true
			}
		}
		if p.Address != "" && strings.Contains(p.Address, tok) {
			return true
		}
	}
	return false
}

func stripSuffix(s string, sorted []string) string {
	for _, suf := range sorted {
		if !strings.HasSuffix(s, suf) {
			continue
		}
		rest := strings.TrimSuffix(s, suf)
		if utf8.RuneCountInString(rest) >= minTokenRune {
			return rest
		}
	}
	return s
}

func longestFirst(suffixes []string) []string {
	out := append([]string(nil), suffixes...)
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}
