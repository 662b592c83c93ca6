package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	inlineSpace     = regexp.MustCompile(`[^\S\n]+`)
	paragraphBreaks = regexp.MustCompile(`\n{3,}`)
)

// Normalize returns text in Unicode NFC with runs of horizontal whitespace
// collapsed to one space. Paragraph breaks survive as a single blank line.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = inlineSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = paragraphBreaks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.FieldsFunc(text, unicode.IsSpace))
}

// TitleCase cleans a generated title: surrounding quotes and trailing
// punctuation are dropped and the words are title cased.
func TitleCase(title string) string {
	title = strings.TrimSpace(strings.Split(strings.TrimSpace(title), "\n")[0])
	title = strings.Trim(title, "\"'`*# ")
	title = strings.TrimRight(title, ".!;:")
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ""
	}
	return cases.Title(language.Und).String(title)
}
