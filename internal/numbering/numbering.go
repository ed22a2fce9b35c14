// Package numbering derives sequential document numbers. Numbers are scoped
// per fiscal year and per document kind by the caller; this package only
// parses the stored formats and computes max+1.
//
// Two shapes circulate in legacy data and both must be accepted:
//
//	0012-KH      sequence first, kind suffix after the dash
//	2081/082-7   fiscal year first, sequence after the dash
//
// Numbers derive from the current maximum on every call, so deleting the
// highest-numbered document can cause reuse. That is accepted behaviour.
package numbering

import (
	"fmt"
	"strconv"
	"strings"
)

// Conventional zero-pad widths.
const (
	// DocumentWidth applies to demand, receipt, issue, return and disposal numbers.
	DocumentWidth = 4
	// OrderWidth applies to purchase order numbers.
	OrderWidth = 3
)

// Parse extracts the sequence component from a stored document number.
// It returns false for values with no usable numeric component.
func Parse(number string) (int, bool) {
	number = strings.TrimSpace(number)
	if number == "" {
		return 0, false
	}
	segments := strings.Split(number, "-")
	// Legacy shape: the fiscal-year segment contains a slash; the sequence
	// is whatever numeric segment follows it.
	for _, seg := range segments {
		if strings.Contains(seg, "/") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(seg)); err == nil && n >= 0 {
			return n, true
		}
		// Modern shape puts the sequence first; a non-numeric first segment
		// means this is not something we can order against.
		break
	}
	return 0, false
}

// Next returns max(existing)+1, starting at 1 when nothing parses.
func Next(existing []string) int {
	max := 0
	for _, number := range existing {
		if n, ok := Parse(number); ok && n > max {
			max = n
		}
	}
	return max + 1
}

// Format renders a sequence number zero-padded to width with a kind suffix.
func Format(n, width int, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%0*d", width, n)
	}
	return fmt.Sprintf("%0*d-%s", width, n, suffix)
}
