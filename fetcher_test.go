package main

import (
	"context"
	"errors"
	"testing"
)

// Mock handler for testing
type mockHandler struct {
	canHandleResult bool
	handleResult    string
	handleError     error
}

func (m *mockHandler) CanHandle(raw string) bool {
	return m.canHandleResult
}

func (m *mockHandler) Handle(raw string) (string, error) {
	return m.handleResult, m.handleError
}

type fakeQuerier struct {
	pages []NotionPage
	err   error
	asked string
}

func (q *fakeQuerier) QueryByStatus(ctx context.Context, value string) ([]NotionPage, error) {
	q.asked = value
	return q.pages, q.err
}

func richText(s string) []NotionRichText {
	return []NotionRichText{{PlainText: s}}
}

func num(n float64) *float64 {
	return &n
}

func TestNewContentFetcher(t *testing.T) {
	fetcher := NewContentFetcher(&fakeQuerier{}, "Ready")

	if fetcher == nil {
		t.Fatal("NewContentFetcher() returned nil")
	}

	expectedHandlerCount := 2 // HTML, Text
	if len(fetcher.handlers) != expectedHandlerCount {
		t.Errorf("NewContentFetcher() registered %d handlers, want %d",
			len(fetcher.handlers), expectedHandlerCount)
	}
}

func TestAddHandler(t *testing.T) {
	fetcher := &ContentFetcher{}
	initialCount := len(fetcher.handlers)

	mockH := &mockHandler{canHandleResult: true}
	fetcher.AddHandler(mockH)

	if len(fetcher.handlers) != initialCount+1 {
		t.Errorf("AddHandler() handlers count = %d, want %d",
			len(fetcher.handlers), initialCount+1)
	}

	lastHandler := fetcher.handlers[len(fetcher.handlers)-1]
	if lastHandler != mockH {
		t.Error("AddHandler() did not add handler to the end of the chain")
	}
}

func TestNormalize(t *testing.T) {
	prefix := "NOTE"

	tests := []struct {
		name     string
		props    map[string]NotionProperty
		expected ArticleItem
	}{
		{
			name: "japanese schema",
			props: map[string]NotionProperty{
				"ID":    {Type: "unique_id", UniqueID: &NotionUniqueID{Number: num(12)}},
				"モード":   {Type: "select", Select: &NotionOption{Name: "ノウハウ・ビジネス型"}},
				"文章のネタ": {Type: "rich_text", RichText: richText("朝の散歩について")},
			},
			expected: ArticleItem{ID: "12", Mode: ModeBusiness, Content: "朝の散歩について"},
		},
		{
			name: "prefixed unique id",
			props: map[string]NotionProperty{
				"ID":      {Type: "unique_id", UniqueID: &NotionUniqueID{Prefix: &prefix, Number: num(7)}},
				"Content": {Type: "rich_text", RichText: richText("body")},
			},
			expected: ArticleItem{ID: "NOTE-7", Mode: ModeEssay, Content: "body"},
		},
		{
			name: "numeric id",
			props: map[string]NotionProperty{
				"ID":   {Type: "number", Number: num(3)},
				"テキスト": {Type: "rich_text", RichText: richText("x")},
			},
			expected: ArticleItem{ID: "3", Mode: ModeEssay, Content: "x"},
		},
		{
			name: "title identity and english mode",
			props: map[string]NotionProperty{
				"Name":    {Type: "title", Title: richText(" My idea ")},
				"Mode":    {Type: "multi_select", MultiSelect: []NotionOption{{Name: "Rewrite"}, {Name: "essay"}}},
				"content": {Type: "rich_text", RichText: richText("draft")},
			},
			expected: ArticleItem{ID: "My idea", Mode: ModeRewrite, Content: "draft"},
		},
		{
			name: "rich text runs are joined",
			props: map[string]NotionProperty{
				"文章のネタ": {Type: "rich_text", RichText: []NotionRichText{{PlainText: "前半、"}, {PlainText: "後半"}}},
			},
			expected: ArticleItem{Mode: ModeEssay, Content: "前半、後半"},
		},
		{
			name: "wrong property type is ignored",
			props: map[string]NotionProperty{
				"ID":      {Type: "rich_text", RichText: richText("not an id")},
				"タイトル":    {Type: "title", Title: richText("タイトル行")},
				"Content": {Type: "title", Title: richText("wrong kind")},
				"content": {Type: "rich_text", RichText: richText("right kind")},
			},
			expected: ArticleItem{ID: "タイトル行", Mode: ModeEssay, Content: "right kind"},
		},
		{
			name: "empty first candidate falls through",
			props: map[string]NotionProperty{
				"文章のネタ":   {Type: "rich_text", RichText: richText("  ")},
				"Content": {Type: "rich_text", RichText: richText("fallback")},
			},
			expected: ArticleItem{Mode: ModeEssay, Content: "fallback"},
		},
		{
			name: "unknown mode falls back to essay",
			props: map[string]NotionProperty{
				"モード":   {Type: "select", Select: &NotionOption{Name: "詩"}},
				"文章のネタ": {Type: "rich_text", RichText: richText("x")},
			},
			expected: ArticleItem{Mode: ModeEssay, Content: "x"},
		},
		{
			name:     "no properties",
			props:    map[string]NotionProperty{},
			expected: ArticleItem{Mode: ModeEssay},
		},
	}

	fetcher := NewContentFetcher(&fakeQuerier{}, "Ready")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := fetcher.normalize(NotionPage{ID: "page-1", Properties: tt.props})

			tt.expected.PageID = "page-1"
			tt.expected.Status = StatusReady
			if item != tt.expected {
				t.Errorf("normalize() = %+v, want %+v", item, tt.expected)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		label string
		mode  Mode
		known bool
	}{
		{"共感・エッセイ型", ModeEssay, true},
		{"ノウハウ・ビジネス型", ModeBusiness, true},
		{"推敲・リライト型", ModeRewrite, true},
		{" 推敲・リライト型 ", ModeRewrite, true},
		// Half-width katakana normalizes to the stored label.
		{"ﾉｳﾊｳ･ﾋﾞｼﾞﾈｽ型", ModeBusiness, true},
		{"Business", ModeBusiness, true},
		{"ESSAY", ModeEssay, true},
		{"", ModeEssay, true},
		{"ポエム", ModeEssay, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			mode, known := ParseMode(tt.label)
			if mode != tt.mode || known != tt.known {
				t.Errorf("ParseMode(%q) = (%s, %v), want (%s, %v)", tt.label, mode, known, tt.mode, tt.known)
			}
		})
	}
}

func TestFetchReadySkipsEmptyAndKeepsOrder(t *testing.T) {
	page := func(id, content string) NotionPage {
		return NotionPage{ID: id, Properties: map[string]NotionProperty{
			"文章のネタ": {Type: "rich_text", RichText: richText(content)},
		}}
	}
	querier := &fakeQuerier{pages: []NotionPage{
		page("p1", "first"),
		page("p2", "   "),
		page("p3", "third"),
		{ID: "p4"},
		page("p5", "fifth"),
	}}

	retrieval, err := NewContentFetcher(querier, "Ready").FetchReady(context.Background())
	if err != nil {
		t.Fatalf("FetchReady() error = %v", err)
	}
	if querier.asked != "Ready" {
		t.Errorf("queried status %q, want %q", querier.asked, "Ready")
	}

	var ids []string
	for _, it := range retrieval.Items {
		ids = append(ids, it.PageID)
	}
	if got, want := len(ids), 3; got != want {
		t.Fatalf("got %d items, want %d", got, want)
	}
	for i, want := range []string{"p1", "p3", "p5"} {
		if ids[i] != want {
			t.Errorf("item %d = %s, want %s", i, ids[i], want)
		}
	}
	if len(retrieval.Skipped) != 2 || retrieval.Skipped[0].PageID != "p2" || retrieval.Skipped[1].PageID != "p4" {
		t.Errorf("Skipped = %+v, want p2 and p4", retrieval.Skipped)
	}
}

func TestFetchReadyQueryError(t *testing.T) {
	querier := &fakeQuerier{err: &HTTPError{StatusCode: 401, URL: "https://api.notion.com/v1/databases/x/query"}}

	result, err := NewContentFetcher(querier, "Ready").FetchReady(context.Background())
	if result != nil {
		t.Error("FetchReady() should return nil result on error")
	}

	var retrievalErr *RetrievalError
	if !errors.As(err, &retrievalErr) {
		t.Fatalf("FetchReady() error = %v, want RetrievalError", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 401 {
		t.Errorf("RetrievalError should wrap the HTTP 401, got %v", err)
	}
}

func TestNormalizeHandlerChain(t *testing.T) {
	handler1 := &mockHandler{canHandleResult: false}
	handler2 := &mockHandler{canHandleResult: true, handleResult: "handler2 result"}
	handler3 := &mockHandler{canHandleResult: true, handleResult: "handler3 result"}

	fetcher := &ContentFetcher{handlers: []ContentHandler{handler1, handler2, handler3}}
	item := fetcher.normalize(NotionPage{ID: "p", Properties: map[string]NotionProperty{
		"Content": {Type: "rich_text", RichText: richText("raw")},
	}})

	if item.Content != "handler2 result" {
		t.Errorf("Content = %q, want %q", item.Content, "handler2 result")
	}
}

func TestNormalizeHandlerErrorUsesRawContent(t *testing.T) {
	fetcher := &ContentFetcher{handlers: []ContentHandler{
		&mockHandler{canHandleResult: true, handleError: errors.New("broken")},
	}}
	item := fetcher.normalize(NotionPage{ID: "p", Properties: map[string]NotionProperty{
		"Content": {Type: "rich_text", RichText: richText("  raw text  ")},
	}})

	if item.Content != "raw text" {
		t.Errorf("Content = %q, want %q", item.Content, "raw text")
	}
}
