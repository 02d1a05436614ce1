package filter

import (
	"errors"
	"sort"
	"strings"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

var ErrEmptyBlocklist = errors.New("blocklist contains no terms")

// Filter masks blocked terms in text. It is immutable after New and safe for
// concurrent use.
type Filter struct {
	matcher *goahocorasick.Machine
	mask    rune
}

// New builds a case-sensitive Aho-Corasick automaton over terms. Blank terms
// and terms containing the mask rune are ignored so that masking never
// creates a new match.
func New(terms []string, mask rune) (*Filter, error) {
	cleaned := lo.Uniq(lo.Reject(terms, func(term string, _ int) bool {
		return strings.TrimSpace(term) == "" || strings.ContainsRune(term, mask)
	}))
	if len(cleaned) == 0 {
		return nil, ErrEmptyBlocklist
	}

	patterns := lo.Map(cleaned, func(term string, _ int) []rune { return []rune(term) })
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Filter{matcher: m, mask: mask}, nil
}

// Sanitize replaces every leftmost-longest, non-overlapping match with a run
// of the mask rune of the same rune length. Matches inside larger words are
// masked too. Bytes outside a match, invalid UTF-8 included, are copied
// through untouched.
func (f *Filter) Sanitize(text string) string {
	if text == "" {
		return text
	}
	runes := []rune(text)
	terms := f.matcher.MultiPatternSearch(runes, false)
	if len(terms) == 0 {
		return text
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Pos != terms[j].Pos {
			return terms[i].Pos < terms[j].Pos
		}
		return len(terms[i].Word) > len(terms[j].Word)
	})

	// offsets[i] is the byte offset of rune i; ranging over a string decodes
	// exactly like the []rune conversion, one rune per invalid byte.
	offsets := make([]int, 0, len(runes)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	var b strings.Builder
	b.Grow(len(text))
	copied, end := 0, 0
	for _, term := range terms {
		if term.Pos < end {
			continue
		}
		end = min(term.Pos+len(term.Word), len(runes))
		b.WriteString(text[copied:offsets[term.Pos]])
		for range end - term.Pos {
			b.WriteRune(f.mask)
		}
		copied = offsets[end]
	}
	b.WriteString(text[copied:])
	return b.String()
}
