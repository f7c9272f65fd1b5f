package validate

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerfix/internal/table"
)

// typeSampleLimit caps how many values the type check inspects per column.
const typeSampleLimit = 200

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	time.RFC3339,
}

// coarseType classifies a column by majority vote over its non-missing
// values. Returns "" when the column has no usable values.
func coarseType(values []string) string {
	counts := make(map[string]int, 4)
	seen := 0
	for _, v := range values {
		if table.IsMissing(v) {
			continue
		}
		seen++
		if seen > typeSampleLimit {
			break
		}
		counts[classify(strings.TrimSpace(v))]++
	}
	if len(counts) == 0 {
		return ""
	}
	best, bestCount := "", -1
	for _, t := range []string{"integer", "decimal", "date", "text"} {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	return best
}

func classify(v string) string {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return "integer"
	}
	if _, err := decimal.NewFromString(v); err == nil {
		return "decimal"
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return "date"
		}
	}
	return "text"
}

// typesCompatible treats integer and decimal as interchangeable; ledger
// exports routinely widen integer keys to decimals.
func typesCompatible(a, b string) bool {
	if a == b {
		return true
	}
	numeric := func(t string) bool { return t == "integer" || t == "decimal" }
	return numeric(a) && numeric(b)
}
