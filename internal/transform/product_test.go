package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProduct(t *testing.T) {
	cases := []struct {
		desc      string
		def       int
		wantName  string
		wantCount int
	}{
		{"3 * Blue Widget", 1, "Blue Widget", 3},
		{"  12*Socks  ", 1, "Socks", 12},
		{"Just a widget", 1, "Just a widget", 1},
		{"Just a widget", 5, "Just a widget", 5},
		{"Widget 2 * pack", 1, "Widget 2 * pack", 1},
		{"", 2, "", 2},
	}
	for _, c := range cases {
		name, count := ParseProduct(c.desc, c.def)
		require.Equal(t, c.wantName, name, c.desc)
		require.Equal(t, c.wantCount, count, c.desc)
	}
}

func TestCleanPhone(t *testing.T) {
	require.Equal(t, "01001234567", CleanPhone("+20 100 123 4567"))
	require.Equal(t, "01001234567", CleanPhone("01001234567"))
	require.Equal(t, "01001234567", CleanPhone("1001234567"))
	require.Equal(t, "", CleanPhone("n/a"))
}
