package logupload

import (
	"strings"
	"unicode/utf8"
)

// MaxCommentSize keeps a comment, including its markdown wrapping, under
// the 65536 characters GitHub accepts.
const MaxCommentSize = 60_000 - 500

// Chunk splits text into pieces of at most size bytes, cutting after the
// last newline inside each window when there is one.
func Chunk(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var chunks []string
	for start := 0; start < len(text); {
		end := min(start+size, len(text))
		if end < len(text) {
			if i := strings.LastIndexByte(text[start:end], '\n'); i >= 0 {
				end = start + i + 1
			} else {
				// never split a rune
				for end > start+1 && !utf8.RuneStart(text[end]) {
					end--
				}
			}
		}
		chunks = append(chunks, text[start:end])
		start = end
	}
	return chunks
}
