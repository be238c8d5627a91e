package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// splitDocument cuts text into overlapping windows of at most size runes,
// stepping size-overlap runes at a time. Window ends are nudged back to the
// nearest whitespace when one is close, so words are not cut mid-way.
// All chunks of one document share the document's content hash.
func splitDocument(sourcePath string, text string, size int, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	hash := ContentHash(trimmed)

	runes := []rune(trimmed)
	step := size - overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		} else {
			end = nudgeToWhitespace(runes, start, end)
		}
		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" {
			chunks = append(chunks, Chunk{
				ID:          fmt.Sprintf("%s#%d", sourcePath, len(chunks)),
				SourcePath:  sourcePath,
				Text:        window,
				ContentHash: hash,
			})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// nudgeToWhitespace moves end back to just after the last whitespace rune in
// the final tenth of the window, if there is one.
func nudgeToWhitespace(runes []rune, start int, end int) int {
	limit := end - (end-start)/10
	for i := end - 1; i > limit; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

// ContentHash is the identity of a document's text for incremental reindex.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
