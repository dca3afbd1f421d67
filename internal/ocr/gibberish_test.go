package ocr

import (
	"strings"
	"testing"
)

func TestFilterGibberish_PreservesTimestamps(t *testing.T) {
	t.Parallel()

	got := FilterGibberish("aaa bb c d e f ThuFeb19 12:01AM xx y z q r")
	want := "aaa bb --- ThuFeb19 12:01AM xx ---"
	if got != want {
		t.Fatalf("FilterGibberish = %q, want %q", got, want)
	}
	if !strings.Contains(got, "ThuFeb19 12:01AM") {
		t.Fatalf("timestamp mangled: %q", got)
	}
}

func TestFilterGibberish_TimestampShapes(t *testing.T) {
	t.Parallel()

	in := "meeting at 9:30 pm on 2024-03-01 and 3/14/2024 works"
	got := FilterGibberish(in)
	for _, ts := range []string{"9:30 pm", "2024-03-01", "3/14/2024"} {
		if !strings.Contains(got, ts) {
			t.Errorf("timestamp %q missing from %q", ts, got)
		}
	}
}

func TestFilterGibberish_ProseSurvives(t *testing.T) {
	t.Parallel()

	in := "the quick brown fox jumps over the lazy dog"
	if got := FilterGibberish(in); got != in {
		t.Fatalf("prose changed: %q", got)
	}
}

func TestFilterGibberish_WindowReplacesNoiseCluster(t *testing.T) {
	t.Parallel()

	// Four of six tokens are nonsense, so the whole window collapses and
	// the delimiter run folds into one.
	got := FilterGibberish("qwk zzt prf mnx hello world")
	if got != delimiter {
		t.Fatalf("FilterGibberish = %q, want %q", got, delimiter)
	}
}

func TestFilterGibberish_ProtectedWordsSurviveWindow(t *testing.T) {
	t.Parallel()

	// npm and js lack vowels but are protected vocabulary, so even inside
	// a marked window they stay put.
	got := FilterGibberish("qwk zzt prf mnx npm js")
	for _, w := range []string{"npm", "js"} {
		if !strings.Contains(got, w) {
			t.Errorf("protected word %q missing from %q", w, got)
		}
	}
	if strings.Contains(got, "qwk") {
		t.Errorf("nonsense survived: %q", got)
	}
}

func TestFilterGibberish_IndividualPassDropsVowellessTokens(t *testing.T) {
	t.Parallel()

	got := FilterGibberish("we shipped zzzz today")
	if want := "we shipped today"; got != want {
		t.Fatalf("FilterGibberish = %q, want %q", got, want)
	}
}

func TestFilterGibberish_PunctuationDenseTokens(t *testing.T) {
	t.Parallel()

	got := FilterGibberish("ok ##@!* done")
	if want := "ok --- done"; got != want {
		t.Fatalf("FilterGibberish = %q, want %q", got, want)
	}
}

func TestFilterGibberish_RealWordsNeverDroppedIndividually(t *testing.T) {
	t.Parallel()

	// "three" has three leading consonants and "months" four trailing
	// ones; both are real words and must survive outside a noise window.
	in := "three months of planning"
	if got := FilterGibberish(in); got != in {
		t.Fatalf("FilterGibberish = %q, want %q", got, in)
	}
}
