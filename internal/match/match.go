// Package match resolves declared column names against the headers a CSV
// file actually has. Desk-side spreadsheets drift: "Fund ID" for fund_id,
// "Vendor" for vendor_name. The matcher turns that drift into a ranked,
// deterministic answer instead of a hard failure.
package match

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Tier identifies which rule produced a match. Lower values are stronger.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierNormalized
	TierSynonym
	TierFuzzy
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierNormalized:
		return "normalized"
	case TierSynonym:
		return "synonym"
	case TierFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// Confidence assigned per tier. Fuzzy matches carry their similarity ratio
// instead.
const (
	exactConfidence      = 1.0
	normalizedConfidence = 0.9
	synonymConfidence    = 0.75
)

// Match is a resolved header.
type Match struct {
	Column     string
	Confidence float64
	Tier       Tier
	Distance   int
}

// Options configures a Matcher.
type Options struct {
	// Synonyms maps a column name to known alternates. Entries are
	// symmetric and are merged with DefaultSynonyms; pass an alternate
	// list under an existing key to extend it.
	Synonyms map[string][]string

	// MinRatio is the similarity floor for fuzzy matches. 0 means 0.8.
	MinRatio float64
}

// DefaultSynonyms returns the built-in alternate spellings seen in the
// ledger exports this tool is pointed at.
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"vendor":         {"vendor_name"},
		"fund_id":        {"fundid", "fund"},
		"invoice_number": {"invoice_no", "invoice_#"},
		"payment_status": {"status"},
		"amount":         {"total", "invoice_amount"},
	}
}

// Matcher resolves declared names against actual headers. Safe for
// concurrent use once built.
type Matcher struct {
	minRatio float64
	synonyms map[string]map[string]bool
}

// New builds a Matcher from opts, merging opts.Synonyms over the defaults.
func New(opts Options) *Matcher {
	m := &Matcher{
		minRatio: opts.MinRatio,
		synonyms: make(map[string]map[string]bool),
	}
	if m.minRatio <= 0 {
		m.minRatio = 0.8
	}
	for key, alts := range DefaultSynonyms() {
		m.addGroup(key, alts)
	}
	for key, alts := range opts.Synonyms {
		m.addGroup(key, alts)
	}
	return m
}

func (m *Matcher) addGroup(key string, alts []string) {
	group := make([]string, 0, len(alts)+1)
	group = append(group, normalize(key))
	for _, a := range alts {
		group = append(group, normalize(a))
	}
	for _, a := range group {
		if a == "" {
			continue
		}
		for _, b := range group {
			if b == "" || a == b {
				continue
			}
			if m.synonyms[a] == nil {
				m.synonyms[a] = make(map[string]bool)
			}
			m.synonyms[a][b] = true
		}
	}
}

// Match finds the best actual header for a declared column name.
//
// Rules run strongest first; the first rule that matches anything wins:
//  1. exact name, case-insensitive
//  2. equal after dropping everything but letters and digits
//  3. synonym table
//  4. similarity ratio at or above the floor
//
// Ties within a rule go to the shorter edit distance, then the
// lexicographically smaller header, so repeated runs pick the same column.
func (m *Matcher) Match(declared string, headers []string) (Match, bool) {
	if declared == "" || len(headers) == 0 {
		return Match{}, false
	}

	type candidate struct {
		column   string
		ratio    float64
		distance int
	}
	// Tiers 1-3 share one confidence, so ties go to the shorter edit and
	// then the smaller name. Fuzzy confidence is the ratio itself, so that
	// tier ranks by ratio first.
	pick := func(cands []candidate, byRatio bool) candidate {
		sort.Slice(cands, func(i, j int) bool {
			if byRatio && cands[i].ratio != cands[j].ratio {
				return cands[i].ratio > cands[j].ratio
			}
			if cands[i].distance != cands[j].distance {
				return cands[i].distance < cands[j].distance
			}
			return cands[i].column < cands[j].column
		})
		return cands[0]
	}

	declaredLower := strings.ToLower(declared)
	declaredNorm := normalize(declared)

	var exact, normed, syn, fuzzy []candidate
	for _, h := range headers {
		if h == "" {
			continue
		}
		hLower := strings.ToLower(h)
		d := levenshtein.ComputeDistance(declaredLower, hLower)
		c := candidate{column: h, distance: d, ratio: similarity(declaredLower, hLower, d)}

		switch {
		case hLower == declaredLower:
			exact = append(exact, c)
		case normalize(h) == declaredNorm:
			normed = append(normed, c)
		case m.synonyms[declaredNorm][normalize(h)]:
			syn = append(syn, c)
		case c.ratio >= m.minRatio:
			fuzzy = append(fuzzy, c)
		}
	}

	switch {
	case len(exact) > 0:
		c := pick(exact, false)
		return Match{Column: c.column, Confidence: exactConfidence, Tier: TierExact, Distance: c.distance}, true
	case len(normed) > 0:
		c := pick(normed, false)
		return Match{Column: c.column, Confidence: normalizedConfidence, Tier: TierNormalized, Distance: c.distance}, true
	case len(syn) > 0:
		c := pick(syn, false)
		return Match{Column: c.column, Confidence: synonymConfidence, Tier: TierSynonym, Distance: c.distance}, true
	case len(fuzzy) > 0:
		c := pick(fuzzy, true)
		return Match{Column: c.column, Confidence: c.ratio, Tier: TierFuzzy, Distance: c.distance}, true
	default:
		return Match{}, false
	}
}

// similarity is 1 - distance/longest, in runes. Identical strings score 1.
func similarity(a, b string, distance int) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(distance)/float64(longest)
}

// normalize lowercases and keeps only letters and digits, so "Fund ID",
// "fund_id" and "fund-id" collapse to the same key.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
