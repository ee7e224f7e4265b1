package utils

import "strings"

// SplitList splits a comma separated list, trimming blanks and dropping empty entries
func SplitList(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
