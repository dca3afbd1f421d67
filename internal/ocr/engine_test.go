package ocr

import (
	"math"
	"testing"
)

const tsvHeader = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext"

func TestParseTSV_AssemblesLines(t *testing.T) {
	t.Parallel()

	tsv := tsvHeader + "\n" +
		"5\t1\t1\t1\t1\t1\t10\t10\t50\t20\t95.5\tHello\n" +
		"5\t1\t1\t1\t1\t2\t70\t10\t50\t20\t90.5\tworld\n" +
		"4\t1\t1\t2\t1\t0\t10\t40\t120\t20\t-1\t\n" +
		"5\t1\t1\t2\t1\t1\t10\t40\t60\t20\t88\tSecond\n" +
		"5\t1\t1\t2\t2\t1\t10\t70\t40\t20\t80\tline\n" +
		"5\t1\t1\t2\t2\t2\t60\t70\t40\t20\t-1\tghost\n"

	text, conf := parseTSV(tsv)

	// par_num changes even though line_num repeats, so "Second" starts a
	// new line.
	want := "Hello world\nSecond\nline"
	if text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
	if math.Abs(conf-88.5) > 1e-9 {
		t.Fatalf("confidence = %v, want 88.5", conf)
	}
}

func TestParseTSV_Empty(t *testing.T) {
	t.Parallel()

	text, conf := parseTSV("")
	if text != "" || conf != 0 {
		t.Fatalf("parseTSV(empty) = %q, %v; want empty, 0", text, conf)
	}

	text, conf = parseTSV(tsvHeader + "\n")
	if text != "" || conf != 0 {
		t.Fatalf("parseTSV(header only) = %q, %v; want empty, 0", text, conf)
	}
}

func TestParseTSV_SkipsBlankWords(t *testing.T) {
	t.Parallel()

	tsv := tsvHeader + "\n" +
		"5\t1\t1\t1\t1\t1\t10\t10\t50\t20\t70\t   \n" +
		"5\t1\t1\t1\t1\t2\t70\t10\t50\t20\t92\tonly\n"

	text, conf := parseTSV(tsv)
	if text != "only" {
		t.Fatalf("text = %q, want %q", text, "only")
	}
	if conf != 92 {
		t.Fatalf("confidence = %v, want 92", conf)
	}
}
