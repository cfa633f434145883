// Package sentence turns an incrementally arriving text stream into
// complete sentences, so speech can start on the first sentence while
// the rest of the response is still streaming.
package sentence

import "strings"

// Segmenter accumulates stream chunks and emits complete sentences as
// soon as a boundary is seen. Not safe for concurrent use; each stream
// gets its own Segmenter.
type Segmenter struct {
	buf strings.Builder
}

// NewSegmenter returns an empty Segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Feed appends chunk to the buffer and returns every sentence completed
// by it, in order. A sentence ends at a '.', '!' or '?' immediately
// followed by whitespace; the terminator alone is not enough, so "3.5"
// never splits. A chunk with no boundary returns nothing and stays
// buffered.
func (s *Segmenter) Feed(chunk string) []string {
	s.buf.WriteString(chunk)
	text := s.buf.String()

	var sentences []string
	for {
		end := boundary(text)
		if end < 0 {
			break
		}
		sentences = append(sentences, text[:end])
		text = strings.TrimLeft(text[end:], " \t\r\n")
	}

	s.buf.Reset()
	s.buf.WriteString(text)
	return sentences
}

// Flush returns any buffered remainder as a final, possibly
// fragmentary, unit and clears the buffer. Returns "" if nothing is
// buffered.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// boundary returns the index just past the first sentence terminator
// that is followed by whitespace, or -1 if the buffer holds no complete
// sentence yet. A terminator at the very end of the buffer does not
// count: the next chunk may continue the token.
func boundary(text string) int {
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			switch text[i+1] {
			case ' ', '\t', '\r', '\n':
				return i + 1
			}
		}
	}
	return -1
}
