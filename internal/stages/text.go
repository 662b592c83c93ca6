package stages

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"autovideo/internal/logging"
	"autovideo/internal/services"
	"autovideo/internal/stage"
	"autovideo/internal/textutil"
)

// ExtractionResult is the normalized source text.
type ExtractionResult struct {
	Text   string `json:"text"`
	Words  int    `json:"words"`
	Source string `json:"source"`
}

// TitleResult holds the generated title.
type TitleResult struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
}

// PremiseResult holds the generated premise.
type PremiseResult struct {
	Premise  string `json:"premise"`
	Provider string `json:"provider"`
}

// ScriptResult holds the raw generated narration script.
type ScriptResult struct {
	Script   string `json:"script"`
	Words    int    `json:"words"`
	Provider string `json:"provider"`
}

// Segment is one narration unit of the cleaned script.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Words int    `json:"words"`
}

// SegmentsResult is the output of script_postprocessing.
type SegmentsResult struct {
	Segments []Segment `json:"segments"`
	Words    int       `json:"words"`
}

const sourceExcerptRunes = 6000

// Extract reads the run input from InputPath or the literal Input text.
func (s *Set) Extract(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
	raw := in.Config.Input
	source := "inline"
	if path := strings.TrimSpace(in.Config.InputPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, in.Stage, "read input", fmt.Sprintf("cannot read %s", path), err)
		}
		raw = string(data)
		source = path
	}
	text := textutil.Normalize(raw)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, in.Stage, "extract", "input text is empty", nil)
	}
	result := ExtractionResult{Text: text, Words: textutil.WordCount(text), Source: source}
	report.Progress(100, fmt.Sprintf("extracted %d words", result.Words))
	stageLogger(in).Info("source extracted",
		logging.String(logging.FieldEventType, "source_extracted"),
		logging.Int("words", result.Words),
		logging.String("source", source))
	return result, nil
}

// GenerateTitle asks for a short title for the source text.
func (s *Set) GenerateTitle(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
	var src ExtractionResult
	if err := in.Results.Decode(Extraction, &src); err != nil {
		return nil, err
	}
	system := "You write concise, compelling titles for short narrated videos. Reply with the title only."
	prompt := fmt.Sprintf("Write a title of at most %s words for a video based on this material:\n\n%s",
		in.Setting("max_words", "8"), excerpt(src.Text))
	resp, text, err := s.generateText(ctx, in, system, prompt)
	if err != nil {
		return nil, err
	}
	title := textutil.TitleCase(text)
	if title == "" {
		return nil, services.Wrap(services.ErrTransient, in.Stage, "generate", "provider returned an unusable title", nil)
	}
	report.Progress(100, title)
	return TitleResult{Title: title, Provider: resp.Provider}, nil
}

// GeneratePremise asks for a one-paragraph premise built on the title.
func (s *Set) GeneratePremise(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
	var src ExtractionResult
	if err := in.Results.Decode(Extraction, &src); err != nil {
		return nil, err
	}
	var title TitleResult
	if err := in.Results.Decode(TitleGeneration, &title); err != nil {
		return nil, err
	}
	system := "You plan short narrated videos. Reply with a single paragraph premise."
	prompt := fmt.Sprintf("Title: %s\nTone: %s\n\nDescribe the premise of the video in one paragraph, grounded in this material:\n\n%s",
		title.Title, in.Setting("tone", "informative"), excerpt(src.Text))
	resp, text, err := s.generateText(ctx, in, system, prompt)
	if err != nil {
		return nil, err
	}
	report.Progress(100, "premise ready")
	return PremiseResult{Premise: textutil.Normalize(text), Provider: resp.Provider}, nil
}

// GenerateScript asks for the narration script.
func (s *Set) GenerateScript(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
	var title TitleResult
	if err := in.Results.Decode(TitleGeneration, &title); err != nil {
		return nil, err
	}
	var premise PremiseResult
	if err := in.Results.Decode(PremiseGeneration, &premise); err != nil {
		return nil, err
	}
	paragraphs, err := strconv.Atoi(in.Setting("paragraphs", "6"))
	if err != nil || paragraphs <= 0 {
		return nil, services.Wrap(services.ErrValidation, in.Stage, "settings", "paragraphs must be a positive integer", err)
	}
	system := "You write narration scripts for short videos. Write plain prose paragraphs separated by blank lines."
	prompt := fmt.Sprintf("Title: %s\nPremise: %s\n\nWrite a narration script of %d paragraphs.",
		title.Title, premise.Premise, paragraphs)
	resp, text, err := s.generateText(ctx, in, system, prompt)
	if err != nil {
		return nil, err
	}
	report.Progress(100, "script ready")
	return ScriptResult{Script: text, Words: textutil.WordCount(text), Provider: resp.Provider}, nil
}

// PostprocessScript strips markup and splits the script into paragraph
// segments.
func (s *Set) PostprocessScript(_ context.Context, in stage.Input, report stage.Reporter) (any, error) {
	var script ScriptResult
	if err := in.Results.Decode(ScriptGeneration, &script); err != nil {
		return nil, err
	}
	paragraphs := textutil.Paragraphs(textutil.StripMarkup(script.Script))
	if len(paragraphs) == 0 {
		return nil, services.Wrap(services.ErrValidation, in.Stage, "segment", "script has no narratable text", nil)
	}
	result := SegmentsResult{Segments: make([]Segment, 0, len(paragraphs))}
	for i, text := range paragraphs {
		words := textutil.WordCount(text)
		result.Segments = append(result.Segments, Segment{Index: i + 1, Text: text, Words: words})
		result.Words += words
	}
	report.Progress(100, fmt.Sprintf("%d segments", len(result.Segments)))
	return result, nil
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= sourceExcerptRunes {
		return text
	}
	return string(runes[:sourceExcerptRunes])
}
