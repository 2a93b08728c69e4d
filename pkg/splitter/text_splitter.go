package splitter

import "github.com/tmc/langchaingo/textsplitter"

// separators prefer markdown section and paragraph breaks, since scraped
// pages and learnings are markdown.
var separators = []string{"\n## ", "\n### ", "\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into chunks of at most Size runes.
type Splitter struct {
	Size    int
	Overlap int

	inner textsplitter.RecursiveCharacter
}

func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{
		Size:    size,
		Overlap: overlap,
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(separators),
		),
	}
}

func (s *Splitter) Split(text string) ([]string, error) {
	return s.inner.SplitText(text)
}

// FirstChunk returns the leading chunk of text, or "" when nothing could be split off.
func (s *Splitter) FirstChunk(text string) string {
	chunks, err := s.Split(text)
	if err != nil || len(chunks) == 0 {
		return ""
	}
	return chunks[0]
}
