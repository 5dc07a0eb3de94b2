package tiered

import "strings"

func sourceText(title, content string) string {
	if s := strings.TrimSpace(content); s != "" {
		return s
	}
	if s := strings.TrimSpace(title); s != "" {
		return s
	}
	return "Untitled"
}

// LocalMicro returns the first sentence, capped to MicroLimit.
func LocalMicro(title, content string) string {
	text := strings.Join(strings.Fields(sourceText(title, content)), " ")
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(text) || text[i+1] == ' ' {
				return CapMicro(text[:i+1])
			}
		}
	}
	return CapMicro(text)
}

// LocalStandard returns roughly the first 150 words.
func LocalStandard(title, content string) string {
	return firstWords(sourceText(title, content), standardWords)
}

// LocalDetailed returns roughly the first 300 words.
func LocalDetailed(title, content string) string {
	return firstWords(sourceText(title, content), detailedWords)
}

func localTiers(title, content string) Tiers {
	return Tiers{
		Micro:    LocalMicro(title, content),
		Standard: LocalStandard(title, content),
		Detailed: LocalDetailed(title, content),
	}
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
