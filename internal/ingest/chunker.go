package ingest

import "fmt"

// Chunk is one window of a document's normalized text. Start is the rune
// offset of the window in the source text.
type Chunk struct {
	Index int
	Text  string
	Start int
}

// Chunker splits text into fixed-size windows with a configurable overlap
// between consecutive windows. Splitting is deterministic: the same text and
// settings always produce the same chunks.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split windows the text by rune count. The final chunk ends at the text end
// and may be shorter than the window size. Empty text yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
