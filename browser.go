package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const navigationSettle = 2 * time.Second

// Page drives the platform composer. Implementations must be safe to call
// in sequence from one goroutine only.
type Page interface {
	Restore(ctx context.Context, state *SessionState) error
	Navigate(ctx context.Context, url string) (finalURL string, err error)
	CurrentURL(ctx context.Context) (string, error)
	WaitEditor(ctx context.Context) error
	AttachImage(ctx context.Context, path string) error
	FillTitle(ctx context.Context, title string) error
	PasteBody(ctx context.Context, body string) error
	ClickSaveDraft(ctx context.Context) error
	WaitSaved(ctx context.Context) (postURL string, err error)
	Screenshot(ctx context.Context, path string) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Close() error
}

// ChromePage is a Page backed by a headless Chrome tab
type ChromePage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	selectors   Selectors
	savedText   string
	editor      string
	title       string
}

// OpenChromePage starts the browser. The returned page must be closed.
func OpenChromePage(ctx context.Context, settings *Settings) (*ChromePage, error) {
	b := settings.Browser
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.WindowSize(b.WindowWidth, b.WindowHeight))
	if !b.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(debugLog))

	// The first Run starts the browser and binds it to tabCtx, so it must
	// not carry a timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	return &ChromePage{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		selectors:   settings.Note.Selectors,
		savedText:   settings.Note.SavedText,
	}, nil
}

// Close shuts the tab and the browser process
func (p *ChromePage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}

// run executes actions on the tab while honouring the caller's deadline and
// cancellation.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (p *ChromePage) Restore(ctx context.Context, state *SessionState) error {
	params := make([]*network.CookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		params = append(params, toCookieParam(c))
	}

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}),
	}
	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		entries, err := json.Marshal(origin.LocalStorage)
		if err != nil {
			return fmt.Errorf("encoding localStorage for %s: %w", origin.Origin, err)
		}
		var ok bool
		actions = append(actions,
			chromedp.Navigate(origin.Origin),
			chromedp.Evaluate(fmt.Sprintf(
				`(() => { for (const e of %s) localStorage.setItem(e.name, e.value); return true; })()`,
				entries), &ok),
		)
	}
	return p.run(ctx, actions...)
}

func toCookieParam(c Cookie) *network.CookieParam {
	param := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	switch c.SameSite {
	case "Strict":
		param.SameSite = network.CookieSameSiteStrict
	case "Lax":
		param.SameSite = network.CookieSameSiteLax
	case "None":
		param.SameSite = network.CookieSameSiteNone
	}
	// Session cookies carry expires -1.
	if c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		t := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
		param.Expires = &t
	}
	return param
}

func (p *ChromePage) Navigate(ctx context.Context, url string) (string, error) {
	var final string
	err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(navigationSettle),
		chromedp.Location(&final),
	)
	return final, err
}

func (p *ChromePage) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

// firstMatch polls until one of selectors matches and returns it.
func (p *ChromePage) firstMatch(ctx context.Context, selectors []string) (string, error) {
	if len(selectors) == 0 {
		return "", errors.New("no selectors configured")
	}
	list, err := json.Marshal(selectors)
	if err != nil {
		return "", err
	}
	var found string
	expr := fmt.Sprintf(`(() => { for (const s of %s) { if (document.querySelector(s)) return s; } return ""; })()`, list)
	if err := p.run(ctx, chromedp.Poll(expr, &found, chromedp.WithPollingTimeout(0), chromedp.WithPollingInterval(250*time.Millisecond))); err != nil {
		return "", fmt.Errorf("waiting for any of %v: %w", selectors, err)
	}
	return found, nil
}

func (p *ChromePage) WaitEditor(ctx context.Context) error {
	sel, err := p.firstMatch(ctx, p.selectors.Editor)
	if err != nil {
		return fmt.Errorf("editor not found: %w", err)
	}
	p.editor = sel
	debugLog("Editor found: %s", sel)

	if title, err := p.firstMatch(ctx, p.selectors.Title); err == nil {
		p.title = title
	}
	return nil
}

// AttachImage opens the header image menu and feeds the file input.
func (p *ChromePage) AttachImage(ctx context.Context, path string) error {
	button, err := p.firstMatch(ctx, p.selectors.ImageButton)
	if err != nil {
		return fmt.Errorf("header image button: %w", err)
	}
	var clicked bool
	if err := p.run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (!el) return false; el.click(); return true; })()`, button), &clicked),
		chromedp.Sleep(time.Second),
		chromedp.Evaluate(`(() => {
			const item = [...document.querySelectorAll('button, [role="menuitem"], li')]
				.find(el => el.textContent.includes('画像をアップロード'));
			if (item) item.click();
			return !!item;
		})()`, &clicked),
	); err != nil {
		return fmt.Errorf("opening upload menu: %w", err)
	}

	input, err := p.firstMatch(ctx, p.selectors.FileInput)
	if err != nil {
		return fmt.Errorf("file input: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.SetUploadFiles(input, []string{abs}, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}

	if p.selectors.ImageConfirm != "" {
		if err := p.run(ctx, chromedp.Click(p.selectors.ImageConfirm, chromedp.BySearch)); err != nil {
			return fmt.Errorf("confirming image: %w", err)
		}
	}
	return nil
}

func (p *ChromePage) FillTitle(ctx context.Context, title string) error {
	if p.title == "" {
		return errors.New("title field not found")
	}
	return p.run(ctx,
		chromedp.Click(p.title, chromedp.ByQuery),
		chromedp.SendKeys(p.title, title, chromedp.ByQuery),
	)
}

// PasteBody dispatches a synthetic paste so the composer converts markdown
// the same way it does for a user paste.
func (p *ChromePage) PasteBody(ctx context.Context, body string) error {
	if p.editor == "" {
		return errors.New("editor not found")
	}
	sel, _ := json.Marshal(p.editor)
	text, _ := json.Marshal(body)
	var ok bool
	err := p.run(ctx,
		chromedp.Click(p.editor, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(`((sel, text) => {
			const el = document.querySelector(sel);
			if (!el) return false;
			el.focus();
			const data = new DataTransfer();
			data.setData('text/plain', text);
			el.dispatchEvent(new ClipboardEvent('paste', {clipboardData: data, bubbles: true, cancelable: true}));
			return true;
		})(%s, %s)`, sel, text), &ok),
	)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("editor disappeared before paste")
	}
	return nil
}

func (p *ChromePage) ClickSaveDraft(ctx context.Context) error {
	return p.run(ctx, chromedp.Click(p.selectors.SaveDraft, chromedp.BySearch))
}

// WaitSaved waits for the save confirmation and returns the draft URL.
func (p *ChromePage) WaitSaved(ctx context.Context) (string, error) {
	text, _ := json.Marshal(p.savedText)
	var postURL string
	expr := fmt.Sprintf(`(document.body && document.body.innerText.includes(%s)) ? location.href : ""`, text)
	err := p.run(ctx, chromedp.Poll(expr, &postURL, chromedp.WithPollingTimeout(0), chromedp.WithPollingInterval(250*time.Millisecond)))
	if err != nil {
		return "", fmt.Errorf("save not confirmed: %w", err)
	}
	return postURL, nil
}

func (p *ChromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

// Cookies exports the current cookies in storage-state form.
func (p *ChromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return out, nil
}
