package script

import (
	"reflect"
	"testing"
)

func TestAnalyze(t *testing.T) {
	t.Run("words sentences paragraphs", func(t *testing.T) {
		text := "Good evening. Welcome back!\n\nTonight we talk about Go."
		a := Analyze(text)

		if a.TotalWords != 9 {
			t.Fatalf("expected 9 words, got %d", a.TotalWords)
		}
		if a.TotalSentences != 3 {
			t.Errorf("expected 3 sentences, got %d", a.TotalSentences)
		}
		if a.TotalParagraphs != 2 {
			t.Errorf("expected 2 paragraphs, got %d", a.TotalParagraphs)
		}

		// Display form keeps punctuation, normalized form drops it.
		if a.Words[1].Text != "evening." {
			t.Errorf("expected display form %q, got %q", "evening.", a.Words[1].Text)
		}
		if a.Words[1].Normalized != "evening" {
			t.Errorf("expected normalized form %q, got %q", "evening", a.Words[1].Normalized)
		}

		// Paragraph membership.
		if a.Words[3].ParagraphIndex != 0 {
			t.Errorf("word %q should be in paragraph 0, got %d", a.Words[3].Text, a.Words[3].ParagraphIndex)
		}
		if a.Words[4].ParagraphIndex != 1 {
			t.Errorf("word %q should be in paragraph 1, got %d", a.Words[4].Text, a.Words[4].ParagraphIndex)
		}
	})

	t.Run("indices are dense and zero based", func(t *testing.T) {
		a := Analyze("One two. Three!\n\nFour five?")
		for i, w := range a.Words {
			if w.Index != i {
				t.Fatalf("words[%d].Index = %d, want %d", i, w.Index, i)
			}
		}
	})

	t.Run("sentence boundaries point at first words", func(t *testing.T) {
		a := Analyze("One two. Three four. Five.")
		want := []int{0, 2, 4}
		if !reflect.DeepEqual(a.SentenceBoundaries, want) {
			t.Errorf("sentence boundaries = %v, want %v", a.SentenceBoundaries, want)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		a := Analyze("")
		if a.TotalWords != 0 || a.TotalSentences != 0 || a.TotalParagraphs != 0 {
			t.Errorf("empty input should yield empty analysis, got %+v", a)
		}
	})

	t.Run("punctuation only tokens are dropped", func(t *testing.T) {
		a := Analyze("wait — no... really?")
		if a.TotalWords != 3 {
			t.Fatalf("expected 3 words, got %d: %+v", a.TotalWords, a.Words)
		}
		if a.Words[0].Normalized != "wait" || a.Words[1].Normalized != "no" || a.Words[2].Normalized != "really" {
			t.Errorf("unexpected normalized words: %+v", a.Words)
		}
	})

	t.Run("empty sentences and paragraphs never appear", func(t *testing.T) {
		a := Analyze("...\n\n!!!\n\nActual words here.")
		if a.TotalParagraphs != 1 {
			t.Errorf("expected 1 paragraph, got %d", a.TotalParagraphs)
		}
		if a.TotalSentences != 1 {
			t.Errorf("expected 1 sentence, got %d", a.TotalSentences)
		}
		if a.TotalWords != 3 {
			t.Errorf("expected 3 words, got %d", a.TotalWords)
		}
	})

	t.Run("analysis is idempotent", func(t *testing.T) {
		text := "First sentence here. Second one!\n\nNew paragraph. With more words?"
		first := Analyze(text)
		second := Analyze(text)
		if !reflect.DeepEqual(first, second) {
			t.Error("two analyses of the same text differ")
		}
	})

	t.Run("whitespace only lines separate paragraphs", func(t *testing.T) {
		a := Analyze("Line one.\n   \nLine two.")
		if a.TotalParagraphs != 2 {
			t.Errorf("expected 2 paragraphs, got %d", a.TotalParagraphs)
		}
	})
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello,", "hello"},
		{"WORLD!", "world"},
		{"it's", "its"},
		{"—", ""},
		{"", ""},
		{"café", "café"},
		{"42nd", "42nd"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
