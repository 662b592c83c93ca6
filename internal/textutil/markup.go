package textutil

import (
	"regexp"
	"strings"
)

var (
	speakerLabel  = regexp.MustCompile(`^(?i)(narrator|host|speaker\s*\d*|voice ?over|vo)\s*:\s*`)
	stageNote     = regexp.MustCompile(`^\s*[\[(][^\])]*[\])]\s*$`)
	headingMarker = regexp.MustCompile(`^#{1,6}\s+`)
	listMarker    = regexp.MustCompile(`^(\s*[-*+]\s+|\s*\d+[.)]\s+)`)
	emphasis      = regexp.MustCompile("(\\*\\*|__|\\*|_|`)")
	ruleLine      = regexp.MustCompile(`^\s*([-*_]\s*){3,}$`)
)

// StripMarkup removes markdown decoration, speaker labels and bracketed
// production notes from a generated script, keeping paragraph breaks.
func StripMarkup(script string) string {
	lines := strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if ruleLine.MatchString(trimmed) || stageNote.MatchString(trimmed) {
			out = append(out, "")
			continue
		}
		trimmed = headingMarker.ReplaceAllString(trimmed, "")
		trimmed = listMarker.ReplaceAllString(trimmed, "")
		trimmed = emphasis.ReplaceAllString(trimmed, "")
		trimmed = speakerLabel.ReplaceAllString(trimmed, "")
		out = append(out, strings.TrimSpace(trimmed))
	}
	return Normalize(strings.Join(out, "\n"))
}

// Paragraphs splits text on blank lines and joins each paragraph's lines with
// a space. Empty paragraphs are dropped.
func Paragraphs(text string) []string {
	blocks := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(blocks))
	for _, block := range blocks {
		joined := strings.Join(strings.Fields(block), " ")
		if joined != "" {
			out = append(out, joined)
		}
	}
	return out
}
