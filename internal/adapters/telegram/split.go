package telegram

import "strings"

// messageLimit is Telegram's hard per-message ceiling.
const messageLimit = 4096

// DefaultChunkSize stays safely under the hard limit.
const DefaultChunkSize = 4090

// SplitMessage breaks the text into chunks of at most maxChunk runes.
// It prefers to cut on a newline so formatted blocks stay intact, but only
// when the newline sits in the last 30% of the candidate chunk; backing off
// further would waste too much of the chunk. maxChunk values outside
// (0, messageLimit] fall back to DefaultChunkSize.
func SplitMessage(text string, maxChunk int) []string {
	if maxChunk <= 0 || maxChunk > messageLimit {
		maxChunk = DefaultChunkSize
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChunk {
		return []string{trimmed}
	}

	minCut := maxChunk * 7 / 10

	var parts []string
	for start := 0; start < len(runes); {
		end := start + maxChunk
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := end
		for i := end; i > start+minCut; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}

		chunk := strings.TrimSpace(string(runes[start:split]))
		if chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}

	return parts
}
