package service

import (
	"strings"
)

// markers are checked in order, first match wins.
var markers = []struct {
	level   Level
	needles []string
}{
	{LevelError, []string{"ERROR", "❌"}},
	{LevelWarning, []string{"WARNING", "⚠️"}},
	{LevelSuccess, []string{"SUCCESS", "✅", "🎉"}},
	{LevelDebug, []string{"DEBUG"}},
}

// Classify returns the level of a worker stdout line.
func Classify(line string) Level {
	for _, m := range markers {
		for _, needle := range m.needles {
			if strings.Contains(line, needle) {
				return m.level
			}
		}
	}
	return LevelInfo
}
