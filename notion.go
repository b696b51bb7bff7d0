package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const maxNotionErrorBody = 4 << 10

// NotionClient talks to the Notion REST API
type NotionClient struct {
	baseURL    string
	token      string
	version    string
	databaseID string
	status     string
	pageSize   int
	client     *http.Client
}

// NewNotionClient creates a client for one database
func NewNotionClient(cfg *Config) *NotionClient {
	n := cfg.Settings.Notion
	pageSize := n.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &NotionClient{
		baseURL:    strings.TrimRight(n.APIBase, "/"),
		token:      cfg.Env.NotionToken,
		version:    n.Version,
		databaseID: cfg.Env.NotionDatabaseID,
		status:     n.StatusProperty,
		pageSize:   pageSize,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NotionPage is a database row
type NotionPage struct {
	ID         string                    `json:"id"`
	Properties map[string]NotionProperty `json:"properties"`
}

// NotionProperty holds any of the property kinds this tool reads
type NotionProperty struct {
	Type        string           `json:"type"`
	Title       []NotionRichText `json:"title,omitempty"`
	RichText    []NotionRichText `json:"rich_text,omitempty"`
	Number      *float64         `json:"number,omitempty"`
	UniqueID    *NotionUniqueID  `json:"unique_id,omitempty"`
	Select      *NotionOption    `json:"select,omitempty"`
	MultiSelect []NotionOption   `json:"multi_select,omitempty"`
	Status      *NotionOption    `json:"status,omitempty"`
}

// NotionRichText is a rich-text run; only the plain text matters here
type NotionRichText struct {
	PlainText string `json:"plain_text"`
}

// NotionUniqueID is the auto-increment ID property
type NotionUniqueID struct {
	Prefix *string  `json:"prefix"`
	Number *float64 `json:"number"`
}

// NotionOption is a select, multi-select or status value
type NotionOption struct {
	Name string `json:"name"`
}

type queryResponse struct {
	Results    []NotionPage `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor *string      `json:"next_cursor"`
}

// QueryByStatus returns every page whose status property equals value, in
// the order the database returns them.
func (c *NotionClient) QueryByStatus(ctx context.Context, value string) ([]NotionPage, error) {
	var pages []NotionPage
	var cursor string
	for {
		body := map[string]any{
			"filter": map[string]any{
				"property": c.status,
				"status":   map[string]string{"equals": value},
			},
			"page_size": c.pageSize,
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/databases/"+c.databaseID+"/query", body, &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		debugLog("Notion query page: %d results, has_more=%v", len(resp.Results), resp.HasMore)

		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		cursor = *resp.NextCursor
	}
	return pages, nil
}

// GetPage fetches a single page
func (c *NotionClient) GetPage(ctx context.Context, pageID string) (*NotionPage, error) {
	var page NotionPage
	if err := c.do(ctx, http.MethodGet, "/pages/"+pageID, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// StatusOf returns the status name of a page, or "".
func (c *NotionClient) StatusOf(page *NotionPage) string {
	prop, ok := page.Properties[c.status]
	if !ok || prop.Status == nil {
		return ""
	}
	return prop.Status.Name
}

// SetStatus patches the status property of a page
func (c *NotionClient) SetStatus(ctx context.Context, pageID, value string) error {
	body := map[string]any{
		"properties": map[string]any{
			c.status: map[string]any{
				"status": map[string]string{"name": value},
			},
		},
	}
	return c.do(ctx, http.MethodPatch, "/pages/"+pageID, body, nil)
}

func (c *NotionClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	debugLog("Notion %s %s: status=%d", method, path, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxNotionErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// NotionUpdater marks published items as done
type NotionUpdater struct {
	client *NotionClient
	done   string
}

func NewNotionUpdater(client *NotionClient, doneValue string) *NotionUpdater {
	return &NotionUpdater{client: client, done: doneValue}
}

// MarkDone moves the item to Done. The page is read first and an item that
// is already Done is left alone.
func (u *NotionUpdater) MarkDone(ctx context.Context, item ArticleItem) error {
	page, err := u.client.GetPage(ctx, item.PageID)
	if err != nil {
		return &UpdateError{PageID: item.PageID, Err: fmt.Errorf("reading current status: %w", err)}
	}
	if current := u.client.StatusOf(page); current == u.done {
		log.Printf("⚠ %s is already %s, leaving it", item, current)
		return nil
	}
	if err := u.client.SetStatus(ctx, item.PageID, u.done); err != nil {
		return &UpdateError{PageID: item.PageID, Err: err}
	}
	return nil
}
