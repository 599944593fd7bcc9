package util

import "strings"

// SplitSymbols splits a comma separated list into upper-case, de-duplicated
// symbols, keeping first-seen order.
func SplitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// NormalizeSymbols applies the SplitSymbols rules to an existing slice.
func NormalizeSymbols(in []string) []string {
	return SplitSymbols(strings.Join(in, ","))
}
