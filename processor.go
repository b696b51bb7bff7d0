package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ItemSource lists ready items
type ItemSource interface {
	FetchReady(ctx context.Context) (*Retrieval, error)
}

// ArticleGenerator writes an article for an item
type ArticleGenerator interface {
	Generate(ctx context.Context, item ArticleItem) (*GeneratedArticle, error)
}

// HeaderRenderer draws the header image for a title
type HeaderRenderer interface {
	Render(title string) ([]byte, error)
}

// StatusUpdater moves a published item to Done
type StatusUpdater interface {
	MarkDone(ctx context.Context, item ArticleItem) error
}

// SessionLoader reads the stored browser session
type SessionLoader interface {
	Load() (*SessionState, error)
}

// DraftPublisher is the posting side of a run
type DraftPublisher interface {
	Start(ctx context.Context, state *SessionState) error
	Verify(ctx context.Context) error
	Publish(ctx context.Context, article *GeneratedArticle, imagePath string) PublishResult
	Close() error
}

// PublisherFactory acquires the browser; it is only called when there is
// something to post.
type PublisherFactory func(ctx context.Context) (DraftPublisher, error)

// RunRecorder journals run outcomes. Implementations must not fail the run.
type RunRecorder interface {
	BeginRun(runID string, startedAt time.Time) error
	RecordItem(runID string, r ItemResult) error
	FinishRun(s *RunSummary) error
	PriorPost(pageID string) (*LedgerEntry, error)
}

// DraftProcessor handles the main workflow
type DraftProcessor struct {
	Source        ItemSource
	Writer        ArticleGenerator
	Renderer      HeaderRenderer
	Updater       StatusUpdater
	Sessions      SessionLoader
	OpenPublisher PublisherFactory
	// Ledger is optional.
	Ledger   RunRecorder
	Timeouts Timeouts
	// Limit caps the number of items processed; 0 means no limit.
	Limit int
}

// Run executes one pass over the ready items. The returned error is set only
// for fatal failures; per-item failures and session aborts are reported
// through the summary. A retrieval failure returns no summary, a browser
// launch failure returns one with every item failed.
func (dp *DraftProcessor) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now()}

	log.Printf("→ Fetching ready items...")
	retrieval, err := dp.fetch(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range retrieval.Skipped {
		summary.add(ItemResult{Item: item, Outcome: OutcomeSkippedEmpty})
	}

	items := retrieval.Items
	if dp.Limit > 0 && len(items) > dp.Limit {
		log.Printf("Limiting run to %d of %d items", dp.Limit, len(items))
		for _, item := range items[dp.Limit:] {
			summary.add(ItemResult{Item: item, Outcome: OutcomeDeferred})
		}
		items = items[:dp.Limit]
	}
	if len(items) == 0 {
		log.Printf("✓ Nothing to publish")
		return summary, nil
	}
	log.Printf("Processing %d items...", len(items))

	dp.beginRun(summary)
	defer dp.finishRun(summary)

	state, err := dp.Sessions.Load()
	if err != nil {
		log.Printf("✗ %v", err)
		dp.abortAll(summary, items, err)
		return summary, nil
	}

	pub, err := dp.OpenPublisher(ctx)
	if err != nil {
		err = fmt.Errorf("opening browser: %w", err)
		log.Printf("✗ %v", err)
		for _, item := range items {
			dp.record(summary, ItemResult{Item: item, Outcome: OutcomeFailed, Error: err})
		}
		return summary, err
	}
	defer pub.Close()

	if err := dp.verify(ctx, pub, state); err != nil {
		log.Printf("✗ %v", err)
		dp.abortAll(summary, items, err)
		return summary, nil
	}

	for i, item := range items {
		if ctx.Err() != nil {
			for _, rest := range items[i:] {
				dp.record(summary, ItemResult{Item: rest, Outcome: OutcomeFailed, Error: fmt.Errorf("interrupted: %w", ctx.Err())})
			}
			break
		}

		log.Printf("[%d/%d] Processing: %s", i+1, len(items), item)
		result := dp.ProcessItem(ctx, pub, item)
		dp.record(summary, result)

		switch result.Outcome {
		case OutcomeSucceeded:
			log.Printf("✓ Saved draft: %s", result.PostURL)
		case OutcomeSessionAborted:
			log.Printf("✗ Session lost, aborting remaining items")
			dp.abortAll(summary, items[i+1:], ErrSessionInvalid)
			return summary, nil
		default:
			log.Printf("✗ Failed %s: %v", item, result.Error)
		}
	}
	return summary, nil
}

func (dp *DraftProcessor) fetch(ctx context.Context) (*Retrieval, error) {
	fetchCtx, cancel := withTimeout(ctx, dp.Timeouts.Retrieval)
	defer cancel()
	retrieval, err := dp.Source.FetchReady(fetchCtx)
	if err != nil {
		var retrievalErr *RetrievalError
		if !errors.As(err, &retrievalErr) {
			err = &RetrievalError{Op: "fetch", Err: err}
		}
		return nil, err
	}
	return retrieval, nil
}

func (dp *DraftProcessor) verify(ctx context.Context, pub DraftPublisher, state *SessionState) error {
	verifyCtx, cancel := withTimeout(ctx, dp.Timeouts.Verify)
	defer cancel()
	if err := pub.Start(verifyCtx, state); err != nil {
		return err
	}
	return pub.Verify(verifyCtx)
}

// ProcessItem runs generate → render → publish → mark done for one item.
func (dp *DraftProcessor) ProcessItem(ctx context.Context, pub DraftPublisher, item ArticleItem) ItemResult {
	dp.warnPriorPost(item)

	genCtx, cancel := withTimeout(ctx, dp.Timeouts.Generation)
	article, err := dp.Writer.Generate(genCtx, item)
	cancel()
	if err != nil {
		return ItemResult{Item: item, Outcome: OutcomeFailed, Error: err}
	}

	imagePath := dp.renderHeader(item, article.Title)
	if imagePath != "" {
		defer os.Remove(imagePath)
	}

	pubCtx, cancel := withTimeout(ctx, dp.Timeouts.Publish)
	published := pub.Publish(pubCtx, article, imagePath)
	cancel()

	result := ItemResult{Item: item, Title: article.Title}
	switch published.Kind {
	case PublishSuccess:
		result.Outcome = OutcomeSucceeded
		result.PostURL = published.PostURL
		updCtx, cancel := withTimeout(ctx, dp.Timeouts.Update)
		defer cancel()
		if err := dp.Updater.MarkDone(updCtx, item); err != nil {
			result.Warning = fmt.Sprintf("posted but still Ready, reconcile manually: %v", err)
			log.Printf("⚠ %s: %s", item, result.Warning)
		}
	case PublishSessionInvalid:
		result.Outcome = OutcomeSessionAborted
		result.Error = fmt.Errorf("%w: %s", ErrSessionInvalid, published.Detail)
	default:
		result.Outcome = OutcomeFailed
		result.Error = fmt.Errorf("%s: %s", published.Kind, published.Detail)
		if published.Screenshot != "" {
			log.Printf("  Screenshot saved: %s", published.Screenshot)
		}
	}
	return result
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// renderHeader writes the header image to a temp file and returns its path,
// or "" when the item should be posted without one.
func (dp *DraftProcessor) renderHeader(item ArticleItem, title string) string {
	data, err := dp.Renderer.Render(title)
	if err != nil {
		log.Printf("  ⚠ %v, posting without header image", err)
		return ""
	}
	f, err := os.CreateTemp("", "header-"+unsafeFileChars.ReplaceAllString(item.String(), "_")+"-*.png")
	if err != nil {
		log.Printf("  ⚠ Creating header image file: %v", err)
		return ""
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		log.Printf("  ⚠ Writing header image: %v", err)
		os.Remove(f.Name())
		return ""
	}
	return filepath.Clean(f.Name())
}

func (dp *DraftProcessor) warnPriorPost(item ArticleItem) {
	if dp.Ledger == nil {
		return
	}
	prior, err := dp.Ledger.PriorPost(item.PageID)
	if err != nil {
		debugLog("Ledger lookup failed: %v", err)
		return
	}
	if prior != nil {
		log.Printf("⚠ %s was already posted on %s (%s); this may create a duplicate draft",
			item, prior.CreatedAt.Format(time.RFC3339), prior.PostURL)
	}
}

func (dp *DraftProcessor) abortAll(summary *RunSummary, items []ArticleItem, cause error) {
	summary.SessionInvalid = true
	for _, item := range items {
		dp.record(summary, ItemResult{Item: item, Outcome: OutcomeSessionAborted, Error: cause})
	}
}

func (dp *DraftProcessor) record(summary *RunSummary, r ItemResult) {
	summary.add(r)
	if dp.Ledger == nil {
		return
	}
	if err := dp.Ledger.RecordItem(summary.RunID, r); err != nil {
		log.Printf("⚠ Ledger: %v", err)
	}
}

func (dp *DraftProcessor) beginRun(summary *RunSummary) {
	if dp.Ledger == nil {
		return
	}
	if err := dp.Ledger.BeginRun(summary.RunID, summary.StartedAt); err != nil {
		log.Printf("⚠ Ledger: %v", err)
	}
	for _, r := range summary.Results {
		if err := dp.Ledger.RecordItem(summary.RunID, r); err != nil {
			log.Printf("⚠ Ledger: %v", err)
		}
	}
}

func (dp *DraftProcessor) finishRun(summary *RunSummary) {
	if dp.Ledger == nil {
		return
	}
	if err := dp.Ledger.FinishRun(summary); err != nil {
		log.Printf("⚠ Ledger: %v", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// PrintSummary writes one line per item and the aggregate counts
func PrintSummary(w io.Writer, s *RunSummary) {
	fmt.Fprintf(w, "\nRun %s\n", s.RunID)
	for _, r := range s.Results {
		switch r.Outcome {
		case OutcomeSucceeded:
			fmt.Fprintf(w, "  ✓ %s %q → %s\n", r.Item, r.Title, r.PostURL)
			if r.Warning != "" {
				fmt.Fprintf(w, "    ⚠ %s\n", r.Warning)
			}
		case OutcomeSkippedEmpty:
			fmt.Fprintf(w, "  - %s skipped: empty content\n", r.Item)
		case OutcomeDeferred:
			fmt.Fprintf(w, "  - %s deferred: over the run limit, still Ready\n", r.Item)
		default:
			fmt.Fprintf(w, "  ✗ %s %s: %v\n", r.Item, r.Outcome, r.Error)
		}
	}
	fmt.Fprintf(w, "Succeeded: %d, Skipped: %d, Failed: %d, Session aborted: %d",
		s.Count(OutcomeSucceeded), s.Count(OutcomeSkippedEmpty),
		s.Count(OutcomeFailed), s.Count(OutcomeSessionAborted))
	if n := s.Count(OutcomeDeferred); n > 0 {
		fmt.Fprintf(w, ", Deferred: %d", n)
	}
		if n := s.Reconcile(); n > 0 {
		fmt.Fprintf(w, ", Needs reconcile: %d", n)
	}
	fmt.Fprintln(w)
	if s.SessionInvalid {
		fmt.Fprintln(w, "Session invalid: log in again and refresh the session file")
	}
}
