package splitter

import (
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
)

const (
	// MinChunkSize is the smallest prefix, in runes, the trimmer will cut to.
	MinChunkSize = 140

	// DefaultContextSize is the token budget used when none is given.
	DefaultContextSize = 120_000

	// tokenizerModel selects the tiktoken encoding used for counting.
	tokenizerModel = "gpt-4"

	// maxTrimPasses bounds the shrink loop; every pass strictly shortens the text.
	maxTrimPasses = 32
)

// Trimmer shrinks text to fit a token budget, preferring to cut at natural
// boundaries (paragraphs, lines, words) over hard truncation.
type Trimmer struct {
	// CountTokens measures text. Defaults to a tiktoken count.
	CountTokens func(text string) int
}

// NewTrimmer returns a Trimmer that counts tokens with tiktoken.
func NewTrimmer() *Trimmer {
	return &Trimmer{CountTokens: countTokens}
}

func countTokens(text string) int {
	return llms.CountTokens(tokenizerModel, text)
}

// Trim returns text unchanged when it fits in contextSize tokens. Otherwise it
// repeatedly estimates how many runes to drop (about three per excess token),
// keeps the first chunk of a recursive split at that size and measures again.
// Values of contextSize below 1 select DefaultContextSize.
func (t *Trimmer) Trim(text string, contextSize int) string {
	if text == "" {
		return ""
	}
	if contextSize < 1 {
		contextSize = DefaultContextSize
	}
	count := t.CountTokens
	if count == nil {
		count = countTokens
	}

	for range maxTrimPasses {
		length := count(text)
		if length <= contextSize {
			return text
		}

		overflowTokens := length - contextSize
		chunkSize := utf8.RuneCountInString(text) - overflowTokens*3
		if chunkSize < MinChunkSize {
			return truncateRunes(text, MinChunkSize)
		}

		trimmed := NewSplitter(chunkSize, 0).FirstChunk(text)
		switch {
		case trimmed == "":
			text = truncateRunes(text, chunkSize)
		case utf8.RuneCountInString(trimmed) >= utf8.RuneCountInString(text):
			// the splitter found no boundary to cut at
			text = truncateRunes(text, chunkSize)
		default:
			text = trimmed
		}
	}

	if count(text) <= contextSize {
		return text
	}
	return truncateRunes(text, MinChunkSize)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
