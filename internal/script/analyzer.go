// Package script turns raw teleprompter script text into an indexed,
// read-only analysis: an ordered word sequence with sentence and paragraph
// membership plus aggregate counts.
//
// Analysis is performed once per script load. The resulting [Analysis] is
// immutable and words are referenced by index everywhere else in the system,
// never copied.
package script

import (
	"strings"
	"unicode"
)

// Word is a single script word with its position in the document.
type Word struct {
	// Text is the original display form as it appeared in the script,
	// including punctuation.
	Text string

	// Normalized is the lowercased form stripped of non-alphanumeric
	// characters. Spoken words are compared against this form.
	Normalized string

	// Index is the zero-based position of the word in document order.
	Index int

	// SentenceIndex is the zero-based index of the containing sentence.
	SentenceIndex int

	// ParagraphIndex is the zero-based index of the containing paragraph.
	ParagraphIndex int
}

// Analysis is the immutable result of analyzing one script.
// Invariant: Words[i].Index == i for all i.
type Analysis struct {
	// Words holds every script word in document order.
	Words []Word

	// SentenceBoundaries[s] is the index of the first word of sentence s.
	SentenceBoundaries []int

	// ParagraphBoundaries[p] is the index of the first word of paragraph p.
	ParagraphBoundaries []int

	TotalWords      int
	TotalSentences  int
	TotalParagraphs int
}

// Analyze tokenizes content into paragraphs (blank-line separated), sentences
// (terminal punctuation) and words (whitespace separated). Words that contain
// no alphanumeric characters at all are dropped, as are sentences and
// paragraphs left empty by that rule, so the analysis never contains empty
// entries. Analyze cannot fail; empty or all-punctuation input yields an
// empty Analysis.
func Analyze(content string) *Analysis {
	a := &Analysis{}

	for _, para := range splitParagraphs(content) {
		paraHasWords := false

		for _, sentence := range splitSentences(para) {
			sentenceHasWords := false

			for _, token := range strings.Fields(sentence) {
				norm := Normalize(token)
				if norm == "" {
					continue
				}
				if !sentenceHasWords {
					a.SentenceBoundaries = append(a.SentenceBoundaries, len(a.Words))
					sentenceHasWords = true
				}
				if !paraHasWords {
					a.ParagraphBoundaries = append(a.ParagraphBoundaries, len(a.Words))
					paraHasWords = true
				}
				a.Words = append(a.Words, Word{
					Text:           token,
					Normalized:     norm,
					Index:          len(a.Words),
					SentenceIndex:  len(a.SentenceBoundaries) - 1,
					ParagraphIndex: len(a.ParagraphBoundaries) - 1,
				})
			}
		}
	}

	a.TotalWords = len(a.Words)
	a.TotalSentences = len(a.SentenceBoundaries)
	a.TotalParagraphs = len(a.ParagraphBoundaries)
	return a
}

// Normalize returns the comparison form of a word: lowercased with every
// non-alphanumeric rune removed. Spoken words must be normalized with the
// same function before matching against script words.
func Normalize(word string) string {
	var b strings.Builder
	b.Grow(len(word))
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// splitParagraphs splits text on blank-line boundaries. Lines containing only
// whitespace count as blank.
func splitParagraphs(text string) []string {
	var paras []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			paras = append(paras, strings.Join(current, "\n"))
			current = current[:0]
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return paras
}

// splitSentences splits a paragraph on sentence-terminal punctuation
// (runs of '.', '!' or '?'). The terminator stays attached to its sentence so
// word display forms keep their punctuation.
func splitSentences(para string) []string {
	var sentences []string
	start := 0
	inTerminator := false

	for i, r := range para {
		switch r {
		case '.', '!', '?':
			inTerminator = true
		default:
			if inTerminator {
				sentences = append(sentences, para[start:i])
				start = i
				inTerminator = false
			}
		}
	}
	if start < len(para) {
		sentences = append(sentences, para[start:])
	}
	return sentences
}
