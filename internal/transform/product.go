package transform

import (
	"regexp"
	"strconv"
	"strings"
)

var productRe = regexp.MustCompile(`^\s*(\d+)\s*\*\s*(.+)`)

// ParseProduct splits "<count> * <name>" descriptions. Without a match the whole
// trimmed text is the name and defaultCount is kept.
func ParseProduct(desc string, defaultCount int) (name string, count int) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", defaultCount
	}
	m := productRe.FindStringSubmatch(desc)
	if m == nil {
		return desc, defaultCount
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return desc, defaultCount
	}
	return strings.TrimSpace(m[2]), n
}
