package ocr

import (
	"regexp"
	"strings"
)

// Processed is the output of the full post-processing pipeline: the text
// worth embedding, with filenames and code lines pulled out separately.
type Processed struct {
	Text         string   `json:"text"`
	FileNames    []string `json:"fileNames"`
	CodeSnippets []string `json:"codeSnippets"`
}

// Process runs the full cleanup pipeline over raw OCR output. Every stage
// is also exported on its own for direct use.
func Process(raw string) Processed {
	text := CleanText(raw)
	files := ExtractFileNames(text)
	code := ExtractCodeSnippets(text)
	text = redact(text, code)
	text = AdditionalCleanup(text)
	text = FilterGibberish(text)
	return Processed{Text: text, FileNames: files, CodeSnippets: code}
}

// CleanText normalises raw OCR output: Unicode ellipses become "...",
// other non-printable-ASCII is dropped, and whitespace collapses while
// line structure survives for the line-based stages downstream.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "…", "...")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || (r >= 0x20 && r < 0x7f) {
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

// fileExtAlt is the fixed extension alternation shared by the filename
// patterns.
const fileExtAlt = `(?:go|rs|py|rb|js|jsx|ts|tsx|java|c|h|cpp|hpp|cs|php|swift|kt|sh|bash|zsh|ps1|sql|html|css|scss|md|txt|json|yaml|yml|toml|xml|csv|pdf|doc|docx|xls|xlsx|ppt|pptx|png|jpg|jpeg|gif|svg|webp|mp3|mp4|mov|wav|zip|tar|gz|log|lock|env|ini|cfg|conf)`

var (
	// plain filenames: name.ext
	fileNamePattern = regexp.MustCompile(`(?i)\b[A-Za-z0-9_][\w.-]*\.` + fileExtAlt + `\b`)

	// display-truncated filenames: "quarterly-rep...ort-final.pdf"
	truncatedFilePattern = regexp.MustCompile(`(?i)\b([A-Za-z0-9][\w-]*-)\s?\.{3}\s?([A-Za-z0-9][\w.-]*\.` + fileExtAlt + `)\b`)

	// hyphenated compounds in a date context: "budget-report March"
	hyphenMonthPattern = regexp.MustCompile(`(?i)\b([a-z0-9]+(?:-[a-z0-9]+)+)\s+(january|february|march|april|may|june|july|august|september|october|november|december)\b`)
)

// ExtractFileNames finds filename candidates in cleaned text: plain
// name.ext matches, display-truncated names reconstructed around an
// ellipsis, and hyphenated compounds next to a month name. Candidates are
// deduplicated case-insensitively and validated with ValidFileName.
func ExtractFileNames(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] || !ValidFileName(name) {
			return
		}
		seen[key] = true
		out = append(out, name)
	}

	// Reconstructed names first, remembering their spans so the visible
	// suffix fragment is not reported as a second filename.
	var truncSpans [][2]int
	for _, idx := range truncatedFilePattern.FindAllStringSubmatchIndex(text, -1) {
		truncSpans = append(truncSpans, [2]int{idx[0], idx[1]})
		add(text[idx[2]:idx[3]] + text[idx[4]:idx[5]])
	}

	for _, idx := range fileNamePattern.FindAllStringIndex(text, -1) {
		inside := false
		for _, sp := range truncSpans {
			if idx[0] >= sp[0] && idx[1] <= sp[1] {
				inside = true
				break
			}
		}
		if !inside {
			add(text[idx[0]:idx[1]])
		}
	}

	for _, m := range hyphenMonthPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

var fileExtSuffix = regexp.MustCompile(`\.[A-Za-z0-9]{1,5}$`)

// ValidFileName reports whether a candidate is safe to treat as a
// filename: printable, free of path and shell punctuation, shorter than
// 256 characters, and either carrying an extension or shaped like a
// hyphenated compound.
func ValidFileName(name string) bool {
	if name == "" || len(name) >= 256 {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
		if strings.ContainsRune("<>:\"|?*\\/'`", r) {
			return false
		}
	}
	return fileExtSuffix.MatchString(name) || strings.Contains(strings.Trim(name, "-"), "-")
}

// codeKeywords start lines that are almost certainly source code on
// screen rather than prose.
var codeKeywords = map[string]bool{
	"export":   true,
	"import":   true,
	"function": true,
	"const":    true,
	"let":      true,
	"var":      true,
}

// ExtractCodeSnippets returns the lines whose first token is a code
// keyword.
func ExtractCodeSnippets(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && codeKeywords[fields[0]] {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

// redact removes extracted code lines and filename spans from the text so
// they are not embedded twice.
func redact(text string, code []string) string {
	for _, c := range code {
		text = strings.ReplaceAll(text, c, " ")
	}
	text = truncatedFilePattern.ReplaceAllString(text, " ")
	text = fileNamePattern.ReplaceAllString(text, " ")
	text = hyphenMonthPattern.ReplaceAllString(text, "$2")
	return collapseLines(text)
}

var (
	// [ERROR], [WARN_2] style log markers
	logTagPattern = regexp.MustCompile(`\[[A-Z][A-Z0-9_]*\]`)

	// bracketed wall-clock stamps: [12:01], [2024-03-01 09:15:00]
	bracketTimePattern = regexp.MustCompile(`\[[^\]]*\d{1,2}:\d{2}(?::\d{2})?[^\]]*\]`)
)

// AdditionalCleanup strips log tags, bracketed timestamps, and emoji.
func AdditionalCleanup(s string) string {
	s = bracketTimePattern.ReplaceAllString(s, " ")
	s = logTagPattern.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F000 && r <= 0x1FAFF,
			r >= 0x2600 && r <= 0x27BF,
			r == 0xFE0F, r == 0x200D:
			return -1
		}
		return r
	}, s)
	return collapseLines(s)
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}
