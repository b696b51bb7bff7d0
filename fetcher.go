package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PropertyKind is the Notion property type a candidate field is read as
type PropertyKind string

const (
	KindUniqueID    PropertyKind = "unique_id"
	KindNumber      PropertyKind = "number"
	KindTitle       PropertyKind = "title"
	KindRichText    PropertyKind = "rich_text"
	KindSelect      PropertyKind = "select"
	KindMultiSelect PropertyKind = "multi_select"
)

// FieldCandidate is one (name, kind) the adapter tries for a canonical field
type FieldCandidate struct {
	Name string
	Kind PropertyKind
}

// Candidate tables, tried in order; the first present, non-empty value wins.
var (
	identityFields = []FieldCandidate{
		{"ID", KindUniqueID},
		{"ID", KindNumber},
		{"タイトル", KindTitle},
		{"Title", KindTitle},
		{"Name", KindTitle},
		{"name", KindTitle},
	}
	contentFields = []FieldCandidate{
		{"文章のネタ", KindRichText},
		{"テキスト", KindRichText},
		{"Content", KindRichText},
		{"content", KindRichText},
	}
	modeFields = []FieldCandidate{
		{"モード", KindSelect},
		{"モード", KindMultiSelect},
		{"Mode", KindSelect},
		{"Mode", KindMultiSelect},
	}
)

var modeLabels = map[string]Mode{
	"共感・エッセイ型":   ModeEssay,
	"ノウハウ・ビジネス型": ModeBusiness,
	"推敲・リライト型":   ModeRewrite,
	"essay":      ModeEssay,
	"business":   ModeBusiness,
	"rewrite":    ModeRewrite,
}

// PageQuerier lists pages by status
type PageQuerier interface {
	QueryByStatus(ctx context.Context, value string) ([]NotionPage, error)
}

// Retrieval is the normalized result of one query. Skipped holds items that
// had no usable content.
type Retrieval struct {
	Items   []ArticleItem
	Skipped []ArticleItem
}

// ContentFetcher retrieves ready items and normalizes them
type ContentFetcher struct {
	store    PageQuerier
	ready    string
	handlers []ContentHandler
}

// NewContentFetcher creates a fetcher with the default content handlers
func NewContentFetcher(store PageQuerier, readyValue string) *ContentFetcher {
	f := &ContentFetcher{store: store, ready: readyValue}

	// Register handlers (most specific first)
	f.AddHandler(NewHTMLHandler())
	f.AddHandler(&TextHandler{}) // fallback

	return f
}

// AddHandler adds a content handler to the chain
func (f *ContentFetcher) AddHandler(handler ContentHandler) {
	f.handlers = append(f.handlers, handler)
}

// FetchReady returns every Ready item in source order
func (f *ContentFetcher) FetchReady(ctx context.Context) (*Retrieval, error) {
	pages, err := f.store.QueryByStatus(ctx, f.ready)
	if err != nil {
		return nil, &RetrievalError{Op: "query", Err: err}
	}

	result := &Retrieval{}
	for _, page := range pages {
		item := f.normalize(page)
		if item.Content == "" {
			log.Printf("⚠ Skipping %s: content is empty", item)
			result.Skipped = append(result.Skipped, item)
			continue
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func (f *ContentFetcher) normalize(page NotionPage) ArticleItem {
	item := ArticleItem{
		PageID: page.ID,
		Status: StatusReady,
		Mode:   ModeEssay,
	}
	if id, ok := firstField(page.Properties, identityFields); ok {
		item.ID = id
	}

	if label, ok := firstField(page.Properties, modeFields); ok {
		mode, known := ParseMode(label)
		if !known {
			log.Printf("⚠ %s: unknown mode %q, using %s", item, label, mode.Label())
		}
		item.Mode = mode
	}

	if raw, ok := firstField(page.Properties, contentFields); ok {
		content, err := f.normalizeContent(raw)
		if err != nil {
			log.Printf("⚠ %s: %v, using raw content", item, err)
			content = strings.TrimSpace(raw)
		}
		item.Content = content
	}
	return item
}

func (f *ContentFetcher) normalizeContent(raw string) (string, error) {
	for _, handler := range f.handlers {
		if handler.CanHandle(raw) {
			return handler.Handle(raw)
		}
	}
	return "", fmt.Errorf("no handler for content")
}

// ParseMode maps a store label to a Mode. Unknown labels fall back to the
// essay mode and report false.
func ParseMode(label string) (Mode, bool) {
	key := strings.TrimSpace(norm.NFKC.String(label))
	if key == "" {
		return ModeEssay, true
	}
	if mode, ok := modeLabels[key]; ok {
		return mode, true
	}
	if mode, ok := modeLabels[strings.ToLower(key)]; ok {
		return mode, true
	}
	return ModeEssay, false
}

func firstField(props map[string]NotionProperty, candidates []FieldCandidate) (string, bool) {
	for _, c := range candidates {
		prop, ok := props[c.Name]
		if !ok || prop.Type != string(c.Kind) {
			continue
		}
		if v := propertyValue(prop, c.Kind); strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

func propertyValue(prop NotionProperty, kind PropertyKind) string {
	switch kind {
	case KindUniqueID:
		if prop.UniqueID == nil || prop.UniqueID.Number == nil {
			return ""
		}
		n := formatNumber(*prop.UniqueID.Number)
		if prop.UniqueID.Prefix != nil && *prop.UniqueID.Prefix != "" {
			return *prop.UniqueID.Prefix + "-" + n
		}
		return n
	case KindNumber:
		if prop.Number == nil {
			return ""
		}
		return formatNumber(*prop.Number)
	case KindTitle:
		if len(prop.Title) == 0 {
			return ""
		}
		return strings.TrimSpace(prop.Title[0].PlainText)
	case KindRichText:
		var b strings.Builder
		for _, rt := range prop.RichText {
			b.WriteString(rt.PlainText)
		}
		return b.String()
	case KindSelect:
		if prop.Select == nil {
			return ""
		}
		return prop.Select.Name
	case KindMultiSelect:
		if len(prop.MultiSelect) == 0 {
			return ""
		}
		return prop.MultiSelect[0].Name
	}
	return ""
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
