package ai

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Dollar amounts at or above this are abbreviated.
const abbreviateFrom = 10_000

var (
	isoDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	dollarRe  = regexp.MustCompile(`\$(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?([KMBTkmbt]\b)?`)

	spaceBeforePercentRe = regexp.MustCompile(`[ \t]+%`)
	spaceBeforeCommaRe   = regexp.MustCompile(`[ \t]+,`)
	spaceRunRe           = regexp.MustCompile(`[ \t]{2,}`)
)

var scales = []struct {
	size   float64
	suffix string
}{
	{1e12, "T"},
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
}

// FormatAnswer rewrites ISO dates in long form, abbreviates large dollar
// amounts and tidies spacing around punctuation.
func FormatAnswer(text string) string {
	return strings.TrimSpace(formatBody(text))
}

func formatBody(text string) string {
	text = isoDateRe.ReplaceAllStringFunc(text, longDate)
	text = dollarRe.ReplaceAllStringFunc(text, abbreviateDollars)
	text = spaceBeforePercentRe.ReplaceAllString(text, "%")
	text = spaceBeforeCommaRe.ReplaceAllString(text, ",")
	return spaceRunRe.ReplaceAllString(text, " ")
}

func longDate(s string) string {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return s
	}
	return t.Format("January 2, 2006")
}

func abbreviateDollars(s string) string {
	m := dollarRe.FindStringSubmatch(s)
	if m[3] != "" {
		// Already abbreviated.
		return s
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "")+m[2], 64)
	if err != nil || v < abbreviateFrom {
		return s
	}
	for _, sc := range scales {
		if v >= sc.size {
			n := strconv.FormatFloat(v/sc.size, 'f', 2, 64)
			n = strings.TrimRight(strings.TrimRight(n, "0"), ".")
			return "$" + n + sc.suffix
		}
	}
	return s
}

// streamFormatter applies formatBody to streamed text. Text is released only
// up to the start of the last whitespace run, so every rewrite sees whole
// tokens and the concatenated output equals FormatAnswer of the full text.
type streamFormatter struct {
	buf     string
	started bool
}

// Push adds a chunk and returns the text that is ready to emit, possibly "".
func (f *streamFormatter) Push(chunk string) string {
	f.buf += chunk
	cut := lastSpaceRun(f.buf)
	if cut <= 0 {
		return ""
	}
	out := formatBody(f.buf[:cut])
	f.buf = f.buf[cut:]
	return f.lead(out)
}

// Flush returns whatever is still buffered.
func (f *streamFormatter) Flush() string {
	out := f.lead(formatBody(f.buf))
	f.buf = ""
	return strings.TrimRightFunc(out, unicode.IsSpace)
}

func (f *streamFormatter) lead(s string) string {
	if !f.started {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
	}
	if s != "" {
		f.started = true
	}
	return s
}

// lastSpaceRun returns the byte offset where the final run of whitespace in
// s begins, or -1 when s has none.
func lastSpaceRun(s string) int {
	start := -1
	for i := len(s); i > 0; {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if unicode.IsSpace(r) {
			start = i - size
		} else if start >= 0 {
			break
		}
		i -= size
	}
	return start
}
