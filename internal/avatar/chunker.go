package avatar

import (
	"fmt"
	"math"
	"strings"
)

// DefaultChunkLength is the longest chunk ChunkText builds from several
// sentences. A single longer sentence stays whole.
const DefaultChunkLength = 200

// Chunk is one piece of narration sent to TTS
type Chunk struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Index int    `json:"index"`
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

// isClosingQuote excludes “ and ‘, which open a quotation
func isClosingQuote(r rune) bool {
	switch r {
	case '"', '”', '\'', '’':
		return true
	}
	return false
}

// SplitSentences splits on Chinese and Latin sentence marks. A closing quote
// right after a mark stays with its sentence.
func SplitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r", "\n"))
	runes := []rune(text)

	var sentences []string
	var cur strings.Builder
	for i, r := range runes {
		cur.WriteRune(r)
		if !isSentenceEnd(r) && !(isClosingQuote(r) && i > 0 && (isSentenceEnd(runes[i-1]) || isClosingQuote(runes[i-1]))) {
			continue
		}
		if i+1 < len(runes) && isClosingQuote(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// ChunkText merges sentences into chunks of at most maxLen runes
func ChunkText(text string, maxLen int) []Chunk {
	if maxLen <= 0 {
		maxLen = DefaultChunkLength
	}

	var chunks []Chunk
	var cur string
	flush := func() {
		if t := strings.TrimSpace(cur); t != "" {
			chunks = append(chunks, Chunk{ID: fmt.Sprintf("chunk-%d", len(chunks)), Text: t, Index: len(chunks)})
		}
		cur = ""
	}

	for _, s := range SplitSentences(text) {
		switch {
		case cur == "":
			cur = s
		case len([]rune(cur))+len([]rune(s)) <= maxLen:
			cur += s
		default:
			flush()
			cur = s
		}
	}
	flush()
	return chunks
}

// CalculateProgress returns the percentage done after chunk index
func CalculateProgress(index, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(index+1) / float64(total) * 100))
}

func FormatProgress(index, total int) string {
	return fmt.Sprintf("%d / %d", index+1, total)
}
