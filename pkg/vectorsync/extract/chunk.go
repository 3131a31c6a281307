package extract

import "strings"

const (
	// maxChunkSize bounds a chunk in runes. Roughly a page of text, well
	// inside the context window of the default embedding model.
	maxChunkSize = 1500

	// chunkOverlap is how many trailing runes of a split chunk are
	// repeated at the head of the next one.
	chunkOverlap = 150
)

// Chunk splits extracted text into embedding-sized pieces. It prefers
// paragraph boundaries and only splits mid-paragraph when a single
// paragraph exceeds the chunk size. Empty input yields no chunks.
func Chunk(text string) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len([]rune(p)) > maxChunkSize {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, splitLong(p)...)
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(p))+2 > maxChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitLong hard-splits an oversized paragraph with a small overlap so
// sentences cut at the boundary still appear whole in one chunk.
func splitLong(p string) []string {
	runes := []rune(p)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + maxChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - chunkOverlap
	}
	return chunks
}
