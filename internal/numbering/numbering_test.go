package numbering

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0012-KH", 12, true},
		{"0001-DA", 1, true},
		{"2081/082-7", 7, true},
		{"2080/081-150", 150, true},
		{"0042", 42, true},
		{" 0042-NI ", 42, true},
		{"KH-12", 0, false},
		{"2081/082", 0, false},
		{"", 0, false},
		{"draft", 0, false},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestNextMixedFormats(t *testing.T) {
	existing := []string{"0001-KH", "2081/082-2", "0003-KH", "garbage"}
	require.Equal(t, 4, Next(existing))
}

func TestNextEmpty(t *testing.T) {
	require.Equal(t, 1, Next(nil))
	require.Equal(t, 1, Next([]string{"", "n/a"}))
}

func TestNextIsMonotonic(t *testing.T) {
	var existing []string
	prev := 0
	for i := 0; i < 10; i++ {
		n := Next(existing)
		require.Greater(t, n, prev)
		require.Equal(t, prev+1, n)
		existing = append(existing, Format(n, DocumentWidth, "KH"))
		prev = n
	}
}

func TestFormat(t *testing.T) {
	require.Equal(t, "003-KH", Format(3, OrderWidth, "KH"))
	require.Equal(t, "0042-NI", Format(42, DocumentWidth, "NI"))
	require.Equal(t, "0007", Format(7, DocumentWidth, ""))
}

func TestOrderNumberingScenario(t *testing.T) {
	// Orders 001-KH and 002-KH exist; verifying a new order assigns 003-KH.
	existing := []string{"001-KH", "002-KH"}
	next := Next(existing)
	require.Equal(t, "003-KH", Format(next, OrderWidth, "KH"))
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, n := range []int{1, 99, 1234} {
		got, ok := Parse(Format(n, DocumentWidth, "DA"))
		require.True(t, ok, fmt.Sprintf("n=%d", n))
		require.Equal(t, n, got)
	}
}
