package llm

import "strings"

// FallbackModel pairs pro and flash variants of a model family so a call
// that keeps failing on one can be tried on the other. It returns "" when
// the model has no partner.
func FallbackModel(model string) string {
	switch {
	case strings.Contains(model, "-flash-lite"):
		return strings.Replace(model, "-flash-lite", "-flash", 1)
	case strings.Contains(model, "-pro"):
		return strings.Replace(model, "-pro", "-flash", 1)
	case strings.Contains(model, "-flash"):
		return strings.Replace(model, "-flash", "-pro", 1)
	default:
		return ""
	}
}
