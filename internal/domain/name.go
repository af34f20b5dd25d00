package domain

import "strings"

// DefaultNameMaxLen caps display names, counted in runes.
const DefaultNameMaxLen = 24

// CleanName trims a display name and cuts it to maxLen runes.
func CleanName(raw string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultNameMaxLen
	}
	name := strings.TrimSpace(raw)
	runes := []rune(name)
	if len(runes) > maxLen {
		name = strings.TrimSpace(string(runes[:maxLen]))
	}
	return name
}
