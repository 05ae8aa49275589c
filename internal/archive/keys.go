// Package archive derives archive keys and correlates them with sheet rows.
//
// The scrape stage writes page N of a batch under "<prefix>/page_N.html" where
// N is the 1-based position of the URL in the row list. The process stage runs
// later and rebuilds the same key from the sheet row index, so the mapping in
// SequenceForRow and RowForSequence is the only contract between the stages.
package archive

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/price-archive/internal/tracker"
)

// Delimiter separates the run prefix from the object name.
const Delimiter = "/"

// RunPrefixLayout formats a batch date as a run prefix.
const RunPrefixLayout = "2006-01-02"

// RunPrefix returns the run prefix for a batch started at t, with a trailing delimiter.
func RunPrefix(t time.Time) string {
	return t.Format(RunPrefixLayout) + Delimiter
}

// ObjectKey renders the object key for an archived page.
func ObjectKey(key tracker.ArchiveKey) string {
	prefix := strings.TrimSuffix(key.RunPrefix, Delimiter)
	return fmt.Sprintf("%s%spage_%d.html", prefix, Delimiter, key.Sequence)
}

// SequenceForRow maps a 1-based sheet row to the 1-based position of that row
// in the data range, which starts right after headerRows.
func SequenceForRow(rowIndex, headerRows int) int {
	return rowIndex - headerRows
}

// RowForSequence is the inverse of SequenceForRow.
func RowForSequence(sequence, headerRows int) int {
	return sequence + headerRows
}

// ReconstructKey rebuilds the archive key the scrape stage used for rowIndex.
func ReconstructKey(runPrefix string, rowIndex, headerRows int) tracker.ArchiveKey {
	return tracker.ArchiveKey{
		RunPrefix: runPrefix,
		Sequence:  SequenceForRow(rowIndex, headerRows),
	}
}

// SelectLatestRunPrefix picks the lexicographically greatest prefix. This only
// matches "most recent" for fixed-width date prefixes; callers should check
// IsDatePrefix on the result. ok is false when prefixes is empty.
func SelectLatestRunPrefix(prefixes []string) (string, bool) {
	if len(prefixes) == 0 {
		return "", false
	}
	sorted := append([]string(nil), prefixes...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	return sorted[0], true
}

// IsDatePrefix reports whether prefix looks like a RunPrefix output.
func IsDatePrefix(prefix string) bool {
	trimmed := strings.TrimSuffix(prefix, Delimiter)
	if len(trimmed) != len(RunPrefixLayout) {
		return false
	}
	_, err := time.Parse(RunPrefixLayout, trimmed)
	return err == nil
}
