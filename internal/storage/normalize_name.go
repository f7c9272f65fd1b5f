package storage

import "strings"

// NormalizeName converts a declared table or column name to a canonical form
// usable as a SQL identifier across backends (e.g. "Vendor Allocation" ->
// "vendor_allocation").
//
// Backends must not assume declared names are already identifier-safe; this
// helper keeps destination naming consistent across backends so a mirror
// written by one backend reads the same under another.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	prevUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}

	return strings.TrimRight(b.String(), "_")
}
