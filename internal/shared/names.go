package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CanonicalName is the join key between documents and inventory batches.
// Matching is deliberately by item name, not by id: one item name spans many
// physical batches and stores. Trimming, NFC normalisation and Unicode case
// folding reduce accidental mismatches; differently spelled entries for the
// same real item still become distinct ledger lines.
func CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Join(strings.Fields(name), " ")
	name = norm.NFC.String(name)
	// cases.Caser carries state, so build one per call.
	return cases.Fold().String(name)
}

// SameItem reports whether two raw item names refer to the same ledger family.
func SameItem(a, b string) bool {
	return CanonicalName(a) == CanonicalName(b)
}
