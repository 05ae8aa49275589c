// Package storage holds helpers shared by the archive store backends.
package storage

import (
	"sort"
	"strings"
)

// CommonPrefixes returns the sorted, de-duplicated top-level prefixes of keys
// up to and including the first delimiter. Keys without a delimiter are not
// prefixes and are skipped.
func CommonPrefixes(keys []string, delimiter string) []string {
	if delimiter == "" {
		return nil
	}
	seen := make(map[string]struct{})
	for _, key := range keys {
		idx := strings.Index(key, delimiter)
		if idx < 0 {
			continue
		}
		seen[key[:idx+len(delimiter)]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
