package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLedger() error = %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestLedgerRecordsRun(t *testing.T) {
	ledger := openTestLedger(t)

	summary := &RunSummary{RunID: "run-1", StartedAt: time.Now()}
	if err := ledger.BeginRun(summary.RunID, summary.StartedAt); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}

	results := []ItemResult{
		{Item: ArticleItem{ID: "1", PageID: "p1", Mode: ModeEssay}, Outcome: OutcomeSucceeded, Title: "一つ目", PostURL: "https://note.com/n/n1"},
		{Item: ArticleItem{ID: "2", PageID: "p2", Mode: ModeBusiness}, Outcome: OutcomeFailed, Error: errors.New("generation failed: HTTP 500")},
		{Item: ArticleItem{ID: "3", PageID: "p3"}, Outcome: OutcomeSucceeded, Title: "三つ目", Warning: "posted but still Ready"},
	}
	for _, r := range results {
		summary.add(r)
		if err := ledger.RecordItem(summary.RunID, r); err != nil {
			t.Fatalf("RecordItem() error = %v", err)
		}
	}
	if err := ledger.FinishRun(summary); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	var succeeded, failed int
	var finished *string
	err := ledger.db.QueryRow(`SELECT succeeded, failed, finished_at FROM runs WHERE id = ?`, "run-1").
		Scan(&succeeded, &failed, &finished)
	if err != nil {
		t.Fatalf("reading run row: %v", err)
	}
	if succeeded != 2 || failed != 1 {
		t.Errorf("run counts = %d succeeded, %d failed, want 2 and 1", succeeded, failed)
	}
	if finished == nil {
		t.Error("finished_at was not set")
	}

	entries, err := ledger.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent() returned %d entries, want 3", len(entries))
	}
	// Newest first
	if entries[0].PageID != "p3" || entries[2].PageID != "p1" {
		t.Errorf("Recent() order = %s, %s, %s", entries[0].PageID, entries[1].PageID, entries[2].PageID)
	}
	if !entries[0].NeedsReconcile {
		t.Error("entry with a warning should need reconciling")
	}
	if entries[1].Outcome != OutcomeFailed || entries[1].Error == "" {
		t.Errorf("failed entry = %+v", entries[1])
	}
	if entries[1].Mode != string(ModeBusiness) {
		t.Errorf("Mode = %q, want %q", entries[1].Mode, ModeBusiness)
	}
	if entries[2].CreatedAt.IsZero() {
		t.Error("CreatedAt was not parsed")
	}

	limited, err := ledger.Recent(1)
	if err != nil {
		t.Fatalf("Recent(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Recent(1) returned %d entries", len(limited))
	}
}

func TestLedgerPriorPost(t *testing.T) {
	ledger := openTestLedger(t)
	if err := ledger.BeginRun("run-1", time.Now()); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}

	prior, err := ledger.PriorPost("p1")
	if err != nil {
		t.Fatalf("PriorPost() error = %v", err)
	}
	if prior != nil {
		t.Errorf("PriorPost() = %+v, want nil for an unknown page", prior)
	}

	item := ArticleItem{ID: "1", PageID: "p1"}
	ledger.RecordItem("run-1", ItemResult{Item: item, Outcome: OutcomeFailed, Error: errors.New("timeout")})
	if prior, _ := ledger.PriorPost("p1"); prior != nil {
		t.Error("a failed attempt is not a prior post")
	}

	ledger.RecordItem("run-1", ItemResult{Item: item, Outcome: OutcomeSucceeded, PostURL: "https://note.com/n/n1"})
	prior, err = ledger.PriorPost("p1")
	if err != nil {
		t.Fatalf("PriorPost() error = %v", err)
	}
	if prior == nil || prior.PostURL != "https://note.com/n/n1" {
		t.Errorf("PriorPost() = %+v, want the successful post", prior)
	}
}

func TestOpenLedgerTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	first, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("first OpenLedger() error = %v", err)
	}
	first.BeginRun("run-1", time.Now())
	first.Close()

	second, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("second OpenLedger() error = %v", err)
	}
	defer second.Close()

	var n int
	if err := second.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		t.Fatalf("counting runs: %v", err)
	}
	if n != 1 {
		t.Errorf("runs = %d, want 1 after reopening", n)
	}
}
