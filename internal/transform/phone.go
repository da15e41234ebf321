package transform

import "strings"

// CleanPhone normalizes an Egyptian mobile number to the local 0XXXXXXXXXX form.
func CleanPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	p := b.String()
	p = strings.TrimPrefix(p, "20")
	if len(p) == 10 && !strings.HasPrefix(p, "0") {
		p = "0" + p
	}
	return p
}
