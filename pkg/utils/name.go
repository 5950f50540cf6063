package utils

import (
	"fmt"
	"math/rand"
)

var nameAdjectives = []string{
	"Red", "Blue", "Green", "Yellow", "Purple", "Orange", "Pink", "Cyan",
	"Silver", "Golden", "Swift", "Bright", "Dark", "Light", "Quick",
}

var nameNouns = []string{
	"Eagle", "Tiger", "Dragon", "Falcon", "Phoenix", "Wolf", "Bear", "Hawk",
	"Lion", "Panther", "Viper", "Raven", "Storm", "Thunder", "Blaze",
}

// GenerateDisplayName produces a human-friendly broadcast name of the form
// Adjective_Noun_NNN. Uniqueness against active sessions is the caller's
// responsibility; the taken set lets the caller pass already-used names.
func GenerateDisplayName(taken func(string) bool) string {
	for {
		name := fmt.Sprintf("%s_%s_%d",
			nameAdjectives[rand.Intn(len(nameAdjectives))],
			nameNouns[rand.Intn(len(nameNouns))],
			100+rand.Intn(900),
		)
		if taken == nil || !taken(name) {
			return name
		}
	}
}
