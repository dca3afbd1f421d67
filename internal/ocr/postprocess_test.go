package ocr

import (
	"slices"
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	in := "héllo   wörld…\n\n\n  foo\tbar  "
	got := CleanText(in)
	want := "hllo wrld...\nfoo bar"
	if got != want {
		t.Fatalf("CleanText = %q, want %q", got, want)
	}
}

func TestExtractFileNames_Plain(t *testing.T) {
	t.Parallel()

	got := ExtractFileNames("see report.pdf and notes.md plus Report.PDF again")
	want := []string{"report.pdf", "notes.md"}
	if !slices.Equal(got, want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
}

func TestExtractFileNames_TruncatedReconstruction(t *testing.T) {
	t.Parallel()

	got := ExtractFileNames("download budget-...report-q3.pdf today")
	want := []string{"budget-report-q3.pdf"}
	if !slices.Equal(got, want) {
		t.Fatalf("files = %v, want %v", got, want)
	}

	// The visible suffix fragment must not be reported separately.
	for _, f := range got {
		if f == "report-q3.pdf" {
			t.Fatalf("suffix fragment leaked into results: %v", got)
		}
	}
}

func TestExtractFileNames_HyphenMonthContext(t *testing.T) {
	t.Parallel()

	got := ExtractFileNames("reviewed budget-report March with the team")
	want := []string{"budget-report"}
	if !slices.Equal(got, want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
}

func TestValidFileName(t *testing.T) {
	t.Parallel()

	valid := []string{"report.pdf", "my-notes", "a.go", "deep-dive-2.md"}
	for _, name := range valid {
		if !ValidFileName(name) {
			t.Errorf("ValidFileName(%q) = false, want true", name)
		}
	}

	invalid := []string{
		"",
		"noextension",
		"bad/name.txt",
		"pipe|name.txt",
		"quote'name.txt",
		"ctl\x01name.txt",
		strings.Repeat("a", 252) + ".pdf",
	}
	for _, name := range invalid {
		if ValidFileName(name) {
			t.Errorf("ValidFileName(%q) = true, want false", name)
		}
	}
}

func TestExtractCodeSnippets(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"import fs from 'fs'",
		"plain prose here",
		"const x = 1",
		"functions are fun",
		"export default App",
	}, "\n")

	got := ExtractCodeSnippets(text)
	want := []string{"import fs from 'fs'", "const x = 1", "export default App"}
	if !slices.Equal(got, want) {
		t.Fatalf("snippets = %v, want %v", got, want)
	}
}

func TestAdditionalCleanup(t *testing.T) {
	t.Parallel()

	got := AdditionalCleanup("[ERROR] build failed [12:01:05] retry \U0001F44D now")
	want := "build failed retry now"
	if got != want {
		t.Fatalf("AdditionalCleanup = %q, want %q", got, want)
	}
}

func TestProcess_Pipeline(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"Review budget-...report-q3.pdf now",
		"import fs from 'fs'",
		"[ERROR] build failed at [12:05] zzz",
	}, "\n")

	p := Process(raw)

	if want := []string{"budget-report-q3.pdf"}; !slices.Equal(p.FileNames, want) {
		t.Fatalf("FileNames = %v, want %v", p.FileNames, want)
	}
	if want := []string{"import fs from 'fs'"}; !slices.Equal(p.CodeSnippets, want) {
		t.Fatalf("CodeSnippets = %v, want %v", p.CodeSnippets, want)
	}
	if want := "Review now\nbuild failed at"; p.Text != want {
		t.Fatalf("Text = %q, want %q", p.Text, want)
	}
}
