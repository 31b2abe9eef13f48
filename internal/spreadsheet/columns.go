package spreadsheet

import (
	"fmt"
	"regexp"
	"strings"
)

var separatorRun = regexp.MustCompile(`[\s\p{Zs}\-]+`)

// Canonicalize lower-cases and trims a header, then collapses every run of
// whitespace and hyphens into one underscore. It is idempotent.
func Canonicalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return separatorRun.ReplaceAllString(name, "_")
}

// Dedupe makes canonical names unique in occurrence order: the first keeps its
// name, later ones get _1, _2, ... skipping suffixes already taken by other columns.
// Empty names become unnamed_<position>.
func Dedupe(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}

	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, n := range names {
		if n == "" {
			n = fmt.Sprintf("unnamed_%d", i)
		}
		count, dup := seen[n]
		seen[n] = count + 1
		if !dup {
			out[i] = n
			continue
		}
		var candidate string
		for k := count; ; k++ {
			candidate = fmt.Sprintf("%s_%d", n, k)
			if !taken[candidate] {
				break
			}
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}

// CanonicalHeader applies Canonicalize then Dedupe to a raw header row
func CanonicalHeader(raw []string) []string {
	names := make([]string, len(raw))
	for i, h := range raw {
		names[i] = Canonicalize(h)
	}
	return Dedupe(names)
}
