package shared

import (
	"errors"
	"regexp"
	"strings"
)

// Fiscal years follow the Bikram Sambat convention "2081/082": the full start
// year, a slash, and the last three digits of the following year.
var fiscalYearPattern = regexp.MustCompile(`^\d{4}/\d{3}$`)

// ErrInvalidFiscalYear indicates a malformed fiscal year string.
var ErrInvalidFiscalYear = errors.New("invalid fiscal year")

// ValidFiscalYear reports whether fy is a well-formed fiscal year string.
func ValidFiscalYear(fy string) bool {
	return fiscalYearPattern.MatchString(strings.TrimSpace(fy))
}

// NormalizeFiscalYear trims the value and validates it.
func NormalizeFiscalYear(fy string) (string, error) {
	fy = strings.TrimSpace(fy)
	if !ValidFiscalYear(fy) {
		return "", ErrInvalidFiscalYear
	}
	return fy, nil
}
