package service

import (
	"regexp"
	"strings"
)

// Chunking defaults, sized for ~500-token embedding inputs with a 100-token
// safety overlap, approximated by whitespace-delimited words.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

var (
	paragraphSplitter = regexp.MustCompile(`\n{2,}`)
	sentenceSplitter  = regexp.MustCompile(`(?mU)[^.!?]+[.!?]+`)
)

// Chunker splits raw text into bounded, overlapping chunks. Splitting
// prefers paragraph and sentence boundaries; only sentences longer than the
// whole budget are cut mid-sentence. Identical input always yields an
// identical, ordered chunk sequence.
type Chunker struct {
	maxWords     int
	overlapWords int
}

// NewChunker creates a chunker with the given word budget and overlap.
// Non-positive or inconsistent values fall back to the defaults.
func NewChunker(maxWords, overlapWords int) *Chunker {
	if maxWords <= 0 {
		maxWords = DefaultChunkSize
	}
	if overlapWords < 0 || overlapWords >= maxWords {
		overlapWords = DefaultChunkOverlap
		if overlapWords >= maxWords {
			overlapWords = maxWords / 5
		}
	}
	return &Chunker{maxWords: maxWords, overlapWords: overlapWords}
}

// Chunk splits text into overlapping chunks. Empty or blank input returns an
// empty sequence, not an error.
func (c *Chunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	var current []string // sentences in the chunk under construction
	currentWords := 0
	carried := 0 // leading sentences of current repeated from the previous chunk

	flush := func() {
		chunks = append(chunks, strings.Join(current, " "))
		// Carry trailing sentences into the next chunk so context at the
		// boundary is not lost.
		var tail []string
		tailWords := 0
		for i := len(current) - 1; i >= 0; i-- {
			w := wordCount(current[i])
			if tailWords+w > c.overlapWords {
				break
			}
			tail = append([]string{current[i]}, tail...)
			tailWords += w
		}
		current = tail
		currentWords = tailWords
		carried = len(tail)
	}

	for _, sentence := range splitSentences(text) {
		w := wordCount(sentence)

		if w > c.maxWords {
			// Oversized sentence: emit what we have, then hard-split it on
			// word boundaries with the same overlap.
			if len(current) > carried {
				chunks = append(chunks, strings.Join(current, " "))
			}
			current, currentWords, carried = nil, 0, 0
			chunks = append(chunks, c.splitWords(sentence)...)
			continue
		}

		if currentWords+w > c.maxWords {
			if len(current) > carried {
				flush()
			}
			// Only carried overlap remains, already emitted once; drop it
			// from the front until the new sentence fits the budget.
			for len(current) > 0 && currentWords+w > c.maxWords {
				currentWords -= wordCount(current[0])
				current = current[1:]
				carried--
			}
		}
		current = append(current, sentence)
		currentWords += w
	}

	if len(current) > carried {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// splitWords cuts an oversized sentence into word windows of maxWords,
// stepping by maxWords-overlapWords.
func (c *Chunker) splitWords(sentence string) []string {
	words := strings.Fields(sentence)
	step := c.maxWords - c.overlapWords
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + c.maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// splitSentences breaks text into sentence-ish units, paragraph-first so that
// chunk boundaries prefer blank lines over punctuation.
func splitSentences(text string) []string {
	var units []string
	for _, para := range paragraphSplitter.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		matched := sentenceSplitter.FindAllStringIndex(para, -1)
		last := 0
		for _, m := range matched {
			s := strings.TrimSpace(para[m[0]:m[1]])
			if s != "" {
				units = append(units, s)
			}
			last = m[1]
		}
		// Trailing text without closing punctuation is its own unit.
		if rest := strings.TrimSpace(para[last:]); rest != "" {
			units = append(units, rest)
		}
	}
	return units
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
