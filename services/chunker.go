package services

import (
	"regexp"
	"strings"

	"emergency-knowledge-service/models"
)

// Chunker splits raw text into retrieval-sized passages. Splitting prefers
// paragraph boundaries, then sentence boundaries, then word boundaries; a
// single word longer than the chunk size is kept whole in its own chunk
// rather than broken. The chunker is pure: same input, same output.
type Chunker struct {
	chunkSize      int
	chunkOverlap   int
	paragraphRegex *regexp.Regexp
	sentenceRegex  *regexp.Regexp
	spaceRegex     *regexp.Regexp
}

// NewChunker validates the size constraints and builds a chunker.
// Requires chunkSize > 0 and 0 <= chunkOverlap < chunkSize.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, models.NewValidationError("chunkSize", "must be greater than zero")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, models.NewValidationError("chunkOverlap", "must satisfy 0 <= overlap < chunkSize")
	}
	return &Chunker{
		chunkSize:      chunkSize,
		chunkOverlap:   chunkOverlap,
		paragraphRegex: regexp.MustCompile(`\n\s*\n`),
		sentenceRegex:  regexp.MustCompile(`[.!?]+\s+`),
		spaceRegex:     regexp.MustCompile(`\s+`),
	}, nil
}

// Split chunks text into an ordered list of non-empty strings. Empty or
// whitespace-only input yields an empty list, never an error. When overlap
// is configured, every chunk after the first is prefixed with the trailing
// overlap of its predecessor unless it already starts with that text or the
// prefix would push the chunk past chunkSize; greedy packing reserves room
// so finished chunks stay within chunkSize.
func (c *Chunker) Split(text string) []string {
	paragraphs := c.normalize(text)
	if len(paragraphs) == 0 {
		return nil
	}

	budget := c.chunkSize - c.chunkOverlap

	chunks := pack(paragraphs, "\n\n", budget, func(paragraph string) []string {
		return pack(c.splitSentences(paragraph), " ", budget, func(sentence string) []string {
			return pack(strings.Fields(sentence), " ", budget, nil)
		})
	})

	if c.chunkOverlap > 0 {
		for i := 1; i < len(chunks); i++ {
			overlap := tailRunes(chunks[i-1], c.chunkOverlap)
			if overlap == "" || strings.HasPrefix(chunks[i], overlap) {
				continue
			}
			// An unbreakable word may fill more than the packing budget;
			// injecting overlap on top of it would break the size bound.
			if len(chunks[i])+len(overlap) > c.chunkSize {
				continue
			}
			chunks[i] = overlap + chunks[i]
		}
	}

	return chunks
}

// normalize collapses whitespace runs to single spaces inside paragraphs
// and returns the non-empty paragraphs split on blank-line boundaries.
func (c *Chunker) normalize(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	raw := c.paragraphRegex.Split(text, -1)
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(c.spaceRegex.ReplaceAllString(p, " "))
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitSentences cuts a normalized paragraph at sentence-terminal
// punctuation followed by whitespace, keeping the punctuation with the
// sentence it ends.
func (c *Chunker) splitSentences(paragraph string) []string {
	var sentences []string
	last := 0
	for _, m := range c.sentenceRegex.FindAllStringIndex(paragraph, -1) {
		s := strings.TrimSpace(paragraph[last:m[1]])
		if s != "" {
			sentences = append(sentences, s)
		}
		last = m[1]
	}
	if rest := strings.TrimSpace(paragraph[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// pack greedily joins units with sep into chunks no longer than budget.
// A unit that alone exceeds the budget is handed to oversize for a
// finer-grained split; with a nil oversize the unit is emitted whole,
// which is how an overlong single word survives unbroken.
func pack(units []string, sep string, budget int, oversize func(string) []string) []string {
	var chunks []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
	}

	for _, unit := range units {
		if len(unit) > budget {
			flush()
			if oversize != nil {
				chunks = append(chunks, oversize(unit)...)
			} else {
				chunks = append(chunks, unit)
			}
			continue
		}

		needed := len(unit)
		if buf.Len() > 0 {
			needed += len(sep)
		}
		if buf.Len()+needed > budget {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(unit)
	}
	flush()

	return chunks
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
