package main

import (
	"fmt"
	"time"
)

// Mode selects the generation prompt template
type Mode string

const (
	ModeEssay    Mode = "essay"
	ModeBusiness Mode = "business"
	ModeRewrite  Mode = "rewrite"
)

// Label returns the store-facing label of the mode.
func (m Mode) Label() string {
	switch m {
	case ModeBusiness:
		return "ノウハウ・ビジネス型"
	case ModeRewrite:
		return "推敲・リライト型"
	default:
		return "共感・エッセイ型"
	}
}

// ItemStatus is the lifecycle state of an item in the store
type ItemStatus string

const (
	StatusReady ItemStatus = "Ready"
	StatusDone  ItemStatus = "Done"
)

// ArticleItem is one candidate row from the store
type ArticleItem struct {
	ID      string
	PageID  string
	Mode    Mode
	Content string
	Status  ItemStatus
}

func (it ArticleItem) String() string {
	if it.ID != "" {
		return it.ID
	}
	return it.PageID
}

// GeneratedArticle is the model output split into title and body
type GeneratedArticle struct {
	Title string
	Body  string
	Mode  Mode
	Model string
}

// PublishKind tags a PublishResult
type PublishKind int

const (
	PublishSuccess PublishKind = iota
	PublishSessionInvalid
	PublishTransient
	PublishPermanent
)

func (k PublishKind) String() string {
	switch k {
	case PublishSuccess:
		return "success"
	case PublishSessionInvalid:
		return "session-invalid"
	case PublishTransient:
		return "transient-failure"
	case PublishPermanent:
		return "permanent-failure"
	}
	return fmt.Sprintf("PublishKind(%d)", int(k))
}

// PublishResult is the outcome of a single posting attempt
type PublishResult struct {
	Kind       PublishKind
	PostURL    string
	Detail     string
	Screenshot string
}

func Success(postURL string) PublishResult {
	return PublishResult{Kind: PublishSuccess, PostURL: postURL}
}

func SessionInvalid(detail string) PublishResult {
	return PublishResult{Kind: PublishSessionInvalid, Detail: detail}
}

func TransientFailure(detail string) PublishResult {
	return PublishResult{Kind: PublishTransient, Detail: detail}
}

func PermanentFailure(detail string) PublishResult {
	return PublishResult{Kind: PublishPermanent, Detail: detail}
}

// ItemOutcome is the per-item line in the run summary
type ItemOutcome string

const (
	OutcomeSucceeded      ItemOutcome = "succeeded"
	OutcomeSkippedEmpty   ItemOutcome = "skipped-empty"
	OutcomeFailed         ItemOutcome = "failed"
	OutcomeSessionAborted ItemOutcome = "session-aborted"
	// OutcomeDeferred items were left Ready by --limit for a later run.
	OutcomeDeferred ItemOutcome = "deferred"
)

// ItemResult tracks the outcome of processing each item
type ItemResult struct {
	Item    ArticleItem
	Outcome ItemOutcome
	Title   string
	PostURL string
	Error   error
	// Warning is set when the post succeeded but the store update did not.
	Warning string
}

// RunSummary aggregates all item results of one run
type RunSummary struct {
	RunID          string
	StartedAt      time.Time
	Results        []ItemResult
	SessionInvalid bool
}

func (s *RunSummary) add(r ItemResult) {
	s.Results = append(s.Results, r)
}

// Count returns how many items ended with the given outcome.
func (s *RunSummary) Count(o ItemOutcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Reconcile returns the number of items posted without a status update.
func (s *RunSummary) Reconcile() int {
	n := 0
	for _, r := range s.Results {
		if r.Warning != "" {
			n++
		}
	}
	return n
}

// ExitCode is 0 only when every item succeeded or was skipped as empty.
func (s *RunSummary) ExitCode() int {
	if s.SessionInvalid {
		return 1
	}
	if s.Count(OutcomeFailed) > 0 || s.Count(OutcomeSessionAborted) > 0 {
		return 1
	}
	return 0
}
