// Package infer proposes values for foreign-key cells that are empty or
// point at nothing. Heuristics run strongest first over the evidence the
// table itself offers: sibling keys that pin down a single target, majority
// votes among lookalike rows, configured amount bands, and a
// single-row-referenced-table fallback. Rows no rule can answer come back
// as gaps, never silently dropped.
package infer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerfix/internal/schema"
	"ledgerfix/internal/table"
)

// Rule names carried on suggestions and into the audit trail.
const (
	RuleDirectSibling = "direct_sibling"
	RuleMajorityVote  = "majority_vote"
	RuleAmountBand    = "amount_band"
	RuleSingleTarget  = "single_target"
)

const (
	directSiblingConfidence = 0.95
	majorityVoteCap         = 0.9
	amountBandConfidence    = 0.6
	singleTargetConfidence  = 0.5
)

// Suggestion is one proposed repair for one defective row. Confidence is
// fixed at creation and never adjusted afterwards.
type Suggestion struct {
	Table         string  `json:"table"`
	RowIndex      int     `json:"row_index"`
	Column        string  `json:"column"`
	CurrentValue  string  `json:"current_value"`
	ProposedValue string  `json:"proposed_value"`
	Confidence    float64 `json:"confidence"`
	Rule          string  `json:"rule"`
	Evidence      string  `json:"evidence"`
}

// Gap is a defective row no rule could answer. Gaps surface as persistent
// errors in the final report.
type Gap struct {
	Table        string `json:"table"`
	RowIndex     int    `json:"row_index"`
	Column       string `json:"column"`
	CurrentValue string `json:"current_value"`
}

// Band ties an amount range to referenced rows whose name matches Pattern
// as a case-insensitive substring.
type Band struct {
	Pattern string
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// Options tunes a single inference pass.
type Options struct {
	// EvidenceColumns are extra attribute columns (beyond sibling foreign
	// keys) whose shared values count as majority-vote evidence, such as
	// an allocation category.
	EvidenceColumns []string

	// Bands enables the amount-band rule. Empty leaves it off.
	Bands []Band

	// AmountColumn is the column the band rule reads. Empty means "amount".
	AmountColumn string

	// NameColumn is the referenced-table column band patterns match.
	// Empty means "name".
	NameColumn string
}

// Result is the outcome of one relationship's inference pass.
type Result struct {
	Suggestions []Suggestion
	Gaps        []Gap
}

// proposal is a rule's candidate before tie-breaking. support counts the
// rows backing it; refRow is the proposed key's row in the referenced
// table, the final tie-break.
type proposal struct {
	value      string
	confidence float64
	evidence   string
	support    int
	refRow     int
}

// Run evaluates one declared relationship and proposes repairs for every
// row on the many side whose foreign key is missing or matches no key in
// the referenced table.
//
// Rules are tried in a fixed order per row and the first rule yielding any
// candidate wins; within a rule, the most supported value is chosen, then
// the one whose key appears earliest in the referenced table. Repeated runs
// over unchanged tables produce identical output.
func Run(desc schema.Descriptor, rel schema.Relationship, tables map[string]*table.Table, opts Options) Result {
	manyName, fkCol := rel.ManySide()
	oneName, pkCol := rel.OneSide()

	tbl := tables[manyName]
	ref := tables[oneName]
	if tbl == nil || ref == nil {
		return Result{}
	}
	fkIx, ok := tbl.ColumnIndex(fkCol)
	if !ok {
		return Result{}
	}
	pkIx, ok := ref.ColumnIndex(pkCol)
	if !ok {
		return Result{}
	}

	r := &pass{
		tbl:   tbl,
		ref:   ref,
		fkCol: fkCol,
		fkIx:  fkIx,
		pkIx:  pkIx,
		pkRow: make(map[string]int),
		opts:  opts,
	}
	for i, row := range ref.Rows {
		v := strings.TrimSpace(row[pkIx])
		if table.IsMissing(v) {
			continue
		}
		if _, seen := r.pkRow[v]; !seen {
			r.pkRow[v] = i
		}
	}

	r.valid = make([]bool, len(tbl.Rows))
	var defective []int
	for i, row := range tbl.Rows {
		v := strings.TrimSpace(row[fkIx])
		if table.IsMissing(v) {
			defective = append(defective, i)
			continue
		}
		if _, ok := r.pkRow[v]; !ok {
			defective = append(defective, i)
			continue
		}
		r.valid[i] = true
	}
	if len(defective) == 0 {
		return Result{}
	}

	seen := map[string]bool{fkCol: true}
	for _, sib := range desc.ForeignKeys(manyName) {
		_, col := sib.ManySide()
		if seen[col] {
			continue
		}
		seen[col] = true
		if _, ok := tbl.ColumnIndex(col); ok {
			r.siblingCols = append(r.siblingCols, col)
		}
	}
	r.voteCols = append(r.voteCols, r.siblingCols...)
	for _, col := range opts.EvidenceColumns {
		if seen[col] {
			continue
		}
		seen[col] = true
		if _, ok := tbl.ColumnIndex(col); ok {
			r.voteCols = append(r.voteCols, col)
		}
	}
	r.buildVotes()

	rules := []struct {
		name string
		eval func(row int) []proposal
	}{
		{RuleDirectSibling, r.directSibling},
		{RuleMajorityVote, r.majorityVote},
		{RuleAmountBand, r.amountBand},
		{RuleSingleTarget, r.singleTarget},
	}

	var res Result
	for _, row := range defective {
		current := tbl.Rows[row][fkIx]
		answered := false
		for _, rule := range rules {
			cands := rule.eval(row)
			if len(cands) == 0 {
				continue
			}
			best := cands[0]
			for _, c := range cands[1:] {
				if c.support > best.support || (c.support == best.support && c.refRow < best.refRow) {
					best = c
				}
			}
			res.Suggestions = append(res.Suggestions, Suggestion{
				Table:         manyName,
				RowIndex:      row,
				Column:        fkCol,
				CurrentValue:  current,
				ProposedValue: best.value,
				Confidence:    best.confidence,
				Rule:          rule.name,
				Evidence:      best.evidence,
			})
			answered = true
			break
		}
		if !answered {
			res.Gaps = append(res.Gaps, Gap{
				Table:        manyName,
				RowIndex:     row,
				Column:       fkCol,
				CurrentValue: current,
			})
		}
	}
	return res
}

// pass holds the indexes one Run builds up front so each rule stays a pure
// lookup over them.
type pass struct {
	tbl, ref    *table.Table
	fkCol       string
	fkIx, pkIx  int
	pkRow       map[string]int
	valid       []bool
	siblingCols []string
	voteCols    []string
	// votes: column -> attribute value -> foreign key value -> count,
	// over valid rows only.
	votes map[string]map[string]map[string]int
	opts  Options
}

func (p *pass) buildVotes() {
	p.votes = make(map[string]map[string]map[string]int, len(p.voteCols))
	for _, col := range p.voteCols {
		ix, _ := p.tbl.ColumnIndex(col)
		byAttr := make(map[string]map[string]int)
		for i, row := range p.tbl.Rows {
			if !p.valid[i] {
				continue
			}
			attr := strings.TrimSpace(row[ix])
			if table.IsMissing(attr) {
				continue
			}
			fk := strings.TrimSpace(row[p.fkIx])
			if byAttr[attr] == nil {
				byAttr[attr] = make(map[string]int)
			}
			byAttr[attr][fk]++
		}
		p.votes[col] = byAttr
	}
}

func (p *pass) attrValue(row int, col string) (string, bool) {
	ix, ok := p.tbl.ColumnIndex(col)
	if !ok {
		return "", false
	}
	v := strings.TrimSpace(p.tbl.Rows[row][ix])
	if table.IsMissing(v) {
		return "", false
	}
	return v, true
}

// directSibling proposes targets pinned down by a sibling foreign key: the
// sibling value must map to exactly one distinct valid target across the
// table's valid rows.
func (p *pass) directSibling(row int) []proposal {
	var out []proposal
	for _, col := range p.siblingCols {
		sv, ok := p.attrValue(row, col)
		if !ok {
			continue
		}
		counts := p.votes[col][sv]
		if len(counts) != 1 {
			continue
		}
		for fk, n := range counts {
			out = append(out, proposal{
				value:      fk,
				confidence: directSiblingConfidence,
				support:    n,
				refRow:     p.pkRow[fk],
				evidence:   fmt.Sprintf("%s: %s=%s maps only to %s (%d supporting rows)", RuleDirectSibling, col, sv, fk, n),
			})
		}
	}
	return out
}

// majorityVote proposes the most frequent target among valid rows sharing
// an attribute value. Confidence is the vote fraction, capped.
func (p *pass) majorityVote(row int) []proposal {
	var out []proposal
	for _, col := range p.voteCols {
		sv, ok := p.attrValue(row, col)
		if !ok {
			continue
		}
		counts := p.votes[col][sv]
		if len(counts) == 0 {
			continue
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		winner, winnerCount, winnerRow := "", -1, 0
		for fk, n := range counts {
			refRow := p.pkRow[fk]
			if n > winnerCount || (n == winnerCount && refRow < winnerRow) {
				winner, winnerCount, winnerRow = fk, n, refRow
			}
		}
		confidence := float64(winnerCount) / float64(total)
		if confidence > majorityVoteCap {
			confidence = majorityVoteCap
		}
		out = append(out, proposal{
			value:      winner,
			confidence: confidence,
			support:    winnerCount,
			refRow:     winnerRow,
			evidence:   fmt.Sprintf("%s: %s=%s favors %s (%d of %d matching rows)", RuleMajorityVote, col, sv, winner, winnerCount, total),
		})
	}
	return out
}

// amountBand proposes targets whose configured amount range covers the
// row's amount and whose name matches the band pattern.
func (p *pass) amountBand(row int) []proposal {
	if len(p.opts.Bands) == 0 {
		return nil
	}
	amountCol := p.opts.AmountColumn
	if amountCol == "" {
		amountCol = "amount"
	}
	nameCol := p.opts.NameColumn
	if nameCol == "" {
		nameCol = "name"
	}
	raw, ok := p.attrValue(row, amountCol)
	if !ok {
		return nil
	}
	amount, err := parseAmount(raw)
	if err != nil {
		return nil
	}
	nameIx, ok := p.ref.ColumnIndex(nameCol)
	if !ok {
		return nil
	}

	var out []proposal
	for _, band := range p.opts.Bands {
		if amount.LessThan(band.Min) || amount.GreaterThan(band.Max) {
			continue
		}
		pattern := strings.ToLower(band.Pattern)
		for i, refRow := range p.ref.Rows {
			name := strings.ToLower(refRow[nameIx])
			if pattern != "" && !strings.Contains(name, pattern) {
				continue
			}
			key := strings.TrimSpace(refRow[p.pkIx])
			first, valid := p.pkRow[key]
			if !valid || first != i {
				continue
			}
			out = append(out, proposal{
				value:      key,
				confidence: amountBandConfidence,
				support:    1,
				refRow:     i,
				evidence:   fmt.Sprintf("%s: amount %s within %s band %s-%s", RuleAmountBand, amount, band.Pattern, band.Min, band.Max),
			})
		}
	}
	return out
}

// singleTarget fires only when the referenced table offers exactly one key.
func (p *pass) singleTarget(int) []proposal {
	if len(p.pkRow) != 1 {
		return nil
	}
	for key, refRow := range p.pkRow {
		return []proposal{{
			value:      key,
			confidence: singleTargetConfidence,
			support:    1,
			refRow:     refRow,
			evidence:   fmt.Sprintf("%s: %s has a single key %s", RuleSingleTarget, p.ref.Name, key),
		}}
	}
	return nil
}

// parseAmount reads ledger-style amounts: optional currency sign, thousands
// separators tolerated.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(strings.TrimSpace(s))
}
