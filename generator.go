package main

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
)

const (
	contentPlaceholder = "{{.Content}}"
	fallbackTitle      = "新しい記事"
)

//go:embed config/prompts/system.md
var defaultSystemPrompt string

//go:embed config/prompts/essay.md
var defaultEssayPrompt string

//go:embed config/prompts/business.md
var defaultBusinessPrompt string

//go:embed config/prompts/rewrite.md
var defaultRewritePrompt string

// PromptSet holds the shared system prompt and one user template per mode
type PromptSet struct {
	System string
	Modes  map[Mode]string
}

// LoadPrompts returns the embedded prompts with any configured file
// overrides applied. Every template must contain the content placeholder.
func LoadPrompts(settings *Settings) (*PromptSet, error) {
	p := settings.Generation.Prompts

	system, err := promptOrDefault(p.System, defaultSystemPrompt)
	if err != nil {
		return nil, err
	}
	set := &PromptSet{System: system, Modes: map[Mode]string{}}

	templates := []struct {
		mode     Mode
		override string
		fallback string
	}{
		{ModeEssay, p.Essay, defaultEssayPrompt},
		{ModeBusiness, p.Business, defaultBusinessPrompt},
		{ModeRewrite, p.Rewrite, defaultRewritePrompt},
	}
	for _, t := range templates {
		tpl, err := promptOrDefault(t.override, t.fallback)
		if err != nil {
			return nil, err
		}
		// Validate that template contains required variables
		if !strings.Contains(tpl, contentPlaceholder) {
			return nil, &ConfigurationError{Err: fmt.Errorf("%s prompt template must contain %s variable", t.mode, contentPlaceholder)}
		}
		set.Modes[t.mode] = tpl
	}
	return set, nil
}

func promptOrDefault(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", &ConfigurationError{Err: fmt.Errorf("reading prompt %s: %w", path, err)}
	}
	return string(content), nil
}

// Writer turns item content into an article with the configured model
type Writer struct {
	completer Completer
	prompts   *PromptSet
	model     string
}

// NewWriter creates a writer; model is the already resolved model name and
// is only used for reporting.
func NewWriter(completer Completer, prompts *PromptSet, model string) *Writer {
	return &Writer{completer: completer, prompts: prompts, model: model}
}

// Generate produces the article for one item. All failures are
// GenerationErrors.
func (w *Writer) Generate(ctx context.Context, item ArticleItem) (*GeneratedArticle, error) {
	log.Printf("  → Writing (%s, %s)...", item.Mode.Label(), w.model)

	tpl, ok := w.prompts.Modes[item.Mode]
	if !ok {
		tpl = w.prompts.Modes[ModeEssay]
	}
	userPrompt := strings.ReplaceAll(tpl, contentPlaceholder, item.Content)

	text, err := w.completer.Complete(ctx, w.prompts.System, userPrompt)
	if err != nil {
		return nil, &GenerationError{Cause: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &GenerationError{Cause: fmt.Errorf("model returned no text: %w", ErrEmptyArticle)}
	}

	title, body := ParseArticle(text)
	body = FormatForNote(body)
	if strings.TrimSpace(body) == "" {
		return nil, &GenerationError{Cause: fmt.Errorf("model returned a title without a body: %w", ErrEmptyArticle)}
	}

	log.Printf("  ✓ Written: %s", title)
	return &GeneratedArticle{Title: title, Body: body, Mode: item.Mode, Model: w.model}, nil
}

// ParseArticle splits model output into title and body. The title is the
// first non-blank line without heading markers; when that leaves nothing,
// the fallback title is used and the whole text becomes the body.
func ParseArticle(text string) (title, body string) {
	text = stripCodeFence(strings.TrimSpace(text))
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		title = cleanTitle(line)
		if title == "" {
			return fallbackTitle, text
		}
		return title, strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
	}
	return fallbackTitle, text
}

func cleanTitle(line string) string {
	t := strings.TrimSpace(line)
	t = strings.TrimLeft(t, "#")
	t = strings.TrimSpace(t)
	if strings.HasPrefix(t, "**") && strings.HasSuffix(t, "**") && len(t) > 4 {
		t = strings.TrimSpace(t[2 : len(t)-2])
	}
	for _, prefix := range []string{"タイトル：", "タイトル:", "Title:"} {
		t = strings.TrimSpace(strings.TrimPrefix(t, prefix))
	}
	return t
}

// stripCodeFence removes a ```markdown wrapper around the whole output.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var headingPattern = regexp.MustCompile(`^(#{1,6})[ \t]+(.*)$`)

// FormatForNote rewrites headings to the two levels the composer supports:
// h1 becomes h2 and h4 and deeper become h3. Fenced code is left alone.
func FormatForNote(body string) string {
	lines := strings.Split(body, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch level := len(m[1]); {
		case level == 1:
			lines[i] = "## " + m[2]
		case level >= 4:
			lines[i] = "### " + m[2]
		}
	}
	return strings.Join(lines, "\n")
}
