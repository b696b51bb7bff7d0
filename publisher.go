package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// PublisherState is the session and posting lifecycle of a Publisher
type PublisherState int

const (
	StateUnauthenticated PublisherState = iota
	StateSessionLoaded
	StateSessionVerified
	StatePosting
	StatePosted
	StatePostFailed
	StateSessionInvalid
)

func (s PublisherState) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StateSessionLoaded:
		return "SessionLoaded"
	case StateSessionVerified:
		return "SessionVerified"
	case StatePosting:
		return "Posting"
	case StatePosted:
		return "Posted"
	case StatePostFailed:
		return "PostFailed"
	case StateSessionInvalid:
		return "SessionInvalid"
	}
	return fmt.Sprintf("PublisherState(%d)", int(s))
}

// transitions lists every legal move. SessionInvalid is terminal.
var transitions = map[PublisherState][]PublisherState{
	StateUnauthenticated: {StateSessionLoaded, StateSessionInvalid},
	StateSessionLoaded:   {StateSessionVerified, StateSessionInvalid},
	StateSessionVerified: {StatePosting},
	StatePosting:         {StatePosted, StatePostFailed, StateSessionInvalid},
	StatePosted:          {StatePosting},
	StatePostFailed:      {StatePosting},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to PublisherState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SessionSaver persists a refreshed session
type SessionSaver interface {
	Save(state *SessionState) error
}

// PublisherOptions configures a Publisher
type PublisherOptions struct {
	// VerifyURL must be a page only a logged-in user can open.
	VerifyURL      string
	ComposerURL    string
	LoginPath      string
	DiagnosticsDir string
	// Sessions, when set, receives the browser cookies after verification.
	Sessions SessionSaver
}

// NewPublisherOptions maps the note and browser settings
func NewPublisherOptions(settings *Settings) PublisherOptions {
	return PublisherOptions{
		VerifyURL:      settings.Note.VerifyURL,
		ComposerURL:    settings.Note.NewURL,
		LoginPath:      settings.Note.LoginPath,
		DiagnosticsDir: settings.Browser.DiagnosticsDir,
	}
}

// Publisher posts drafts through a Page and tracks session validity
type Publisher struct {
	page    Page
	opts    PublisherOptions
	state   PublisherState
	session *SessionState
}

func NewPublisher(page Page, opts PublisherOptions) *Publisher {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	return &Publisher{page: page, opts: opts, state: StateUnauthenticated}
}

// State returns the current lifecycle state
func (p *Publisher) State() PublisherState {
	return p.state
}

func (p *Publisher) transition(to PublisherState) {
	if !CanTransition(p.state, to) {
		// Programming error; record it and force the state anyway so the
		// run still reaches a terminal summary.
		log.Printf("⚠ publisher: illegal transition %s → %s", p.state, to)
	}
	debugLog("publisher: %s → %s", p.state, to)
	p.state = to
}

// Start loads the session into the browser.
func (p *Publisher) Start(ctx context.Context, state *SessionState) error {
	if state == nil {
		p.transition(StateSessionInvalid)
		return ErrSessionNotFound
	}
	if err := p.page.Restore(ctx, state); err != nil {
		p.transition(StateSessionInvalid)
		return fmt.Errorf("%w: restoring session: %v", ErrSessionInvalid, err)
	}
	p.session = state
	p.transition(StateSessionLoaded)
	return nil
}

// Verify opens the authenticated-only VerifyURL once and checks that the
// platform did not redirect to login. Any failure here invalidates the session for the run.
func (p *Publisher) Verify(ctx context.Context) error {
	if p.state != StateSessionLoaded {
		return fmt.Errorf("verify in state %s", p.state)
	}
	log.Printf("→ Verifying session...")

	final, err := p.page.Navigate(ctx, p.opts.VerifyURL)
	if err != nil {
		p.transition(StateSessionInvalid)
		return fmt.Errorf("%w: opening %s: %v", ErrSessionInvalid, p.opts.VerifyURL, err)
	}
	if p.isLogin(final) {
		p.transition(StateSessionInvalid)
		return fmt.Errorf("%w: redirected to %s", ErrSessionInvalid, final)
	}
	p.transition(StateSessionVerified)
	log.Printf("✓ Session verified")

	if p.opts.Sessions != nil {
		p.refresh(ctx)
	}
	return nil
}

// refresh re-persists the browser cookies; failure only warns.
func (p *Publisher) refresh(ctx context.Context) {
	cookies, err := p.page.Cookies(ctx)
	if err != nil {
		log.Printf("⚠ Session refresh skipped: %v", err)
		return
	}
	refreshed := &SessionState{Cookies: cookies, CreatedAt: time.Now().UTC()}
	if p.session != nil {
		refreshed.Origins = p.session.Origins
	}
	if err := p.opts.Sessions.Save(refreshed); err != nil {
		log.Printf("⚠ Session refresh failed: %v", err)
		return
	}
	debugLog("Session refreshed with %d cookies", len(cookies))
}

// Publish saves one article as a draft. imagePath may be empty.
func (p *Publisher) Publish(ctx context.Context, article *GeneratedArticle, imagePath string) PublishResult {
	switch p.state {
	case StateSessionInvalid:
		return SessionInvalid("session is no longer valid")
	case StateSessionVerified, StatePosted, StatePostFailed:
	default:
		return PermanentFailure(fmt.Sprintf("publisher not ready (state %s)", p.state))
	}

	if article == nil || strings.TrimSpace(article.Title) == "" {
		return PermanentFailure("article has no title")
	}
	if strings.TrimSpace(article.Body) == "" {
		return PermanentFailure("article has no body")
	}

	p.transition(StatePosting)
	result := p.post(ctx, article, imagePath)
	switch result.Kind {
	case PublishSuccess:
		p.transition(StatePosted)
	case PublishSessionInvalid:
		p.transition(StateSessionInvalid)
	default:
		p.transition(StatePostFailed)
	}
	return result
}

func (p *Publisher) post(ctx context.Context, article *GeneratedArticle, imagePath string) PublishResult {
	log.Printf("  → Opening composer...")
	final, err := p.page.Navigate(ctx, p.opts.ComposerURL)
	if err != nil {
		return p.failure(ctx, "opening composer", err, false)
	}
	if p.isLogin(final) {
		return SessionInvalid("redirected to login: " + final)
	}

	if err := p.page.WaitEditor(ctx); err != nil {
		return p.failure(ctx, "waiting for editor", err, false)
	}

	if imagePath != "" {
		if err := p.page.AttachImage(ctx, imagePath); err != nil {
			log.Printf("  ⚠ Header image not attached: %v", err)
		}
	}

	if err := p.page.FillTitle(ctx, article.Title); err != nil {
		return p.failure(ctx, "entering title", err, false)
	}
	if err := p.page.PasteBody(ctx, article.Body); err != nil {
		return p.failure(ctx, "pasting body", err, false)
	}

	log.Printf("  → Saving draft...")
	if err := p.page.ClickSaveDraft(ctx); err != nil {
		return p.failure(ctx, "clicking save", err, false)
	}

	postURL, err := p.page.WaitSaved(ctx)
	if err != nil {
		// The save may or may not have landed; never report success.
		return p.failure(ctx, "confirming save", err, true)
	}
	return Success(postURL)
}

// failure classifies a posting error. A login redirect wins over anything
// else. Errors after the save click are always transient since the draft
// may exist.
func (p *Publisher) failure(ctx context.Context, step string, err error, afterSave bool) PublishResult {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if current, urlErr := p.page.CurrentURL(checkCtx); urlErr == nil && p.isLogin(current) {
		return SessionInvalid(fmt.Sprintf("%s: redirected to login", step))
	}

	detail := fmt.Sprintf("%s: %v", step, err)
	var result PublishResult
	switch {
	case afterSave:
		result = TransientFailure("save outcome unknown, " + detail)
	case isTransient(err):
		result = TransientFailure(detail)
	default:
		result = PermanentFailure(detail)
	}
	result.Screenshot = p.screenshot(checkCtx, step)
	return result
}

func (p *Publisher) screenshot(ctx context.Context, step string) string {
	if p.opts.DiagnosticsDir == "" {
		return ""
	}
	name := fmt.Sprintf("%s-%s.png", time.Now().Format("20060102-150405"), strings.ReplaceAll(step, " ", "-"))
	path := filepath.Join(p.opts.DiagnosticsDir, name)
	if err := p.page.Screenshot(ctx, path); err != nil {
		debugLog("Screenshot failed: %v", err)
		return ""
	}
	return path
}

func (p *Publisher) isLogin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Contains(raw, p.opts.LoginPath)
	}
	return strings.Contains(u.Path, p.opts.LoginPath)
}

// isTransient reports timeouts, cancellation and network errors.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Close releases the browser
func (p *Publisher) Close() error {
	return p.page.Close()
}
