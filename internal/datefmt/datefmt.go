// Package datefmt renders timestamps with the YYYY/MM/DD/HH/mm/ss pattern
// tokens used in path templates and journal file names.
package datefmt

import (
	"strings"
	"time"
)

// tokens are tried longest first at each position.
var tokens = []struct {
	token  string
	layout string
}{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// Format renders t according to pattern. Characters that are not tokens
// are copied verbatim.
func Format(t time.Time, pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, tk := range tokens {
			if strings.HasPrefix(pattern[i:], tk.token) {
				b.WriteString(t.Format(tk.layout))
				i += len(tk.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}
