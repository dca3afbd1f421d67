package ocr

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	delimiter        = "---"
	windowSize       = 6
	windowThreshold  = 4
	placeholderShape = "__TS_%d__"
)

// timestampPatterns are protected before any token filtering runs:
// OCR-mangled day stamps like "ThuFeb19" look like gibberish but carry
// real signal for screen records.
var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:Mon|Tue|Wed|Thu|Fri|Sat|Sun)[A-Za-z]{0,9}\d{1,2}\b`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s?(?:[AaPp][Mm])?\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
}

var (
	placeholderPattern = regexp.MustCompile(`^__TS_\d+__$`)

	// three or more isolated single letters in a row
	singleLetterRun = regexp.MustCompile(`(?:\b[A-Za-z]\b[ \t]+){2,}\b[A-Za-z]\b`)

	delimiterRun = regexp.MustCompile(`(?:---[ \t]*){2,}`)
)

// FilterGibberish drops OCR noise from cleaned text. Timestamps are
// protected with placeholders, runs of stray single letters and
// punctuation-dense tokens collapse into a "---" delimiter, and a sliding
// window replaces dense clusters of nonsense tokens. Isolated vowel-less
// tokens are dropped individually; everything else is left alone so real
// prose survives intact.
func FilterGibberish(s string) string {
	var saved []string
	for _, p := range timestampPatterns {
		s = p.ReplaceAllStringFunc(s, func(m string) string {
			saved = append(saved, m)
			return fmt.Sprintf(placeholderShape, len(saved)-1)
		})
	}

	s = singleLetterRun.ReplaceAllString(s, delimiter)

	lines := strings.Split(s, "\n")
	for li, line := range lines {
		lines[li] = filterLine(line)
	}
	s = strings.Join(lines, "\n")

	for i, ts := range saved {
		s = strings.ReplaceAll(s, fmt.Sprintf(placeholderShape, i), ts)
	}

	s = delimiterRun.ReplaceAllString(s, delimiter+" ")
	return strings.TrimSpace(collapseLines(s))
}

func filterLine(line string) string {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return ""
	}

	for i, t := range tokens {
		if t != delimiter && !placeholderPattern.MatchString(t) && punctuationDense(t) {
			tokens[i] = delimiter
		}
	}

	nonsense := make([]bool, len(tokens))
	for i, t := range tokens {
		nonsense[i] = isNonsense(t)
	}

	marked := make([]bool, len(tokens))
	for start := 0; start+windowSize <= len(tokens); start++ {
		count := 0
		for i := start; i < start+windowSize; i++ {
			if nonsense[i] {
				count++
			}
		}
		if count >= windowThreshold {
			for i := start; i < start+windowSize; i++ {
				marked[i] = true
			}
		}
	}

	out := make([]string, 0, len(tokens))
	for i, t := range tokens {
		switch {
		case t == delimiter || placeholderPattern.MatchString(t):
			out = append(out, t)
		case marked[i] && !protected(t):
			out = append(out, delimiter)
		case hardNonsense(t):
			// isolated vowel-less garbage that escaped the window
		default:
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}

const punctDenseRatio = 0.5

func punctuationDense(tok string) bool {
	if len(tok) < 2 {
		return false
	}
	punct := 0
	total := 0
	for _, r := range tok {
		total++
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	return float64(punct)/float64(total) > punctDenseRatio
}

// isNonsense flags tokens that look like OCR noise: no vowels, a very low
// vowel ratio in short tokens, or implausible consonant clusters. Tokens
// with digits, protected vocabulary, placeholders, and delimiters never
// count.
func isNonsense(tok string) bool {
	if tok == delimiter || placeholderPattern.MatchString(tok) {
		return false
	}
	t := strings.ToLower(strings.Trim(tok, ".,;:!?()[]{}\"'"))
	if t == "" || protectedWords[t] {
		return false
	}
	if strings.ContainsFunc(t, unicode.IsDigit) {
		return false
	}

	var letters []rune
	for _, r := range t {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	n := len(letters)
	if n == 0 {
		return false
	}
	vowels := 0
	for _, r := range letters {
		if isVowel(r) {
			vowels++
		}
	}

	switch {
	case n >= 3 && vowels == 0:
		return true
	case n <= 4 && float64(vowels)/float64(n) < 0.2:
		return true
	case n <= 5 && leadingConsonants(letters) >= 3:
		return true
	case trailingConsonants(letters) >= 4:
		return true
	}
	return false
}

// hardNonsense is the stricter individual-drop rule: three or more
// letters without a single vowel.
func hardNonsense(tok string) bool {
	if tok == delimiter || placeholderPattern.MatchString(tok) {
		return false
	}
	t := strings.ToLower(strings.Trim(tok, ".,;:!?()[]{}\"'"))
	if t == "" || protectedWords[t] {
		return false
	}
	if strings.ContainsFunc(t, unicode.IsDigit) {
		return false
	}
	n := 0
	vowels := 0
	for _, r := range t {
		if unicode.IsLetter(r) {
			n++
			if isVowel(r) {
				vowels++
			}
		}
	}
	return n >= 3 && vowels == 0
}

func protected(tok string) bool {
	return protectedWords[strings.ToLower(strings.Trim(tok, ".,;:!?()[]{}\"'"))]
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func leadingConsonants(letters []rune) int {
	for i, r := range letters {
		if isVowel(r) {
			return i
		}
	}
	return len(letters)
}

func trailingConsonants(letters []rune) int {
	for i := len(letters) - 1; i >= 0; i-- {
		if isVowel(letters[i]) {
			return len(letters) - 1 - i
		}
	}
	return len(letters)
}

// protectedWords are real words and abbreviations the heuristics would
// otherwise flag: vowel-less tech shorthand, y-only words, and English
// words with heavy consonant clusters.
var protectedWords = buildWordSet(
	// tech shorthand common in screen captures
	"js ts jsx tsx py rb go rs php sql css html http https www xml json yaml yml md txt pdf",
	"png jpg jpeg svg gif csv zip tar gz npm pnpm git cli gui api sdk url uri ssh ssl tls",
	"dns tcp udp ip vpn cdn db ui ux os pc cpu gpu ram ssd hdd usb hdmi grpc jwt cors crud",
	"ftp smtp imap ctrl cmd alt del esc tab src dst tmp usr bin dev lib opt sys proc mnt env",
	"cfg std str int bool fn pkg mod ln rm mv cp cd ls pwd npx vm id",
	// units and titles
	"pm am hr hrs min mins sec secs ms kb mb gb tb px pt vs etc mr mrs dr st ave dept inc llc ltd corp govt",
	// y as the only vowel
	"by my why try dry fly shy sky spy fry cry sly ply gym hymn myth lynx sync nymph crypt glyph lynch rhythm rhythms syncs myths",
	// real words with three leading consonants
	"three threw throw thrive split spray strip strap straw strum strut stray strong string strict scrap scrub screw shred shrug spree sprig splash scheme school schema",
	// real words with four trailing consonants
	"months worlds depths widths lengths texts prompts attempts tempts scripts excerpts concepts",
)

func buildWordSet(groups ...string) map[string]bool {
	set := make(map[string]bool)
	for _, g := range groups {
		for _, w := range strings.Fields(g) {
			set[w] = true
		}
	}
	return set
}
