package browser

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/shehryarbajwa/checkin-mini/internal/tabs"
)

// Driver drives the pooled Chrome over CDP and implements tabs.Driver.
type Driver struct {
	browserCtx context.Context
	cancel     context.CancelFunc

	mu     sync.Mutex
	nextID int
	open   map[int]*chromeTab
	onLoad func(tabID int)
}

// NewDriver attaches to a running browser at the given CDP URL.
func NewDriver(ctx context.Context, connectURL string) (*Driver, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, connectURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Establish the browser connection eagerly so a bad URL fails here,
	// not on first use.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	cancel := func() {
		browserCancel()
		allocCancel()
	}

	return &Driver{
		browserCtx: browserCtx,
		cancel:     cancel,
		nextID:     1,
		open:       make(map[int]*chromeTab),
	}, nil
}

// OnPageLoad registers the page-ready callback. Fired for every completed
// load in a managed tab, including the portal's own client-side reloads.
func (d *Driver) OnPageLoad(fn func(tabID int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLoad = fn
}

// FindTab returns an open page whose URL starts with urlPrefix.
func (d *Driver) FindTab(ctx context.Context, urlPrefix string) (tabs.Tab, bool, error) {
	infos, err := chromedp.Targets(d.browserCtx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list targets: %w", err)
	}

	for _, info := range infos {
		if info.Type != "page" || !strings.HasPrefix(info.URL, urlPrefix) {
			continue
		}

		tabCtx, tabCancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(info.TargetID))
		return d.track(tabCtx, tabCancel), true, nil
	}

	return nil, false, nil
}

// CreateTab opens a new page at the given URL.
func (d *Driver) CreateTab(ctx context.Context, url string) (tabs.Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(d.browserCtx)
	t := d.track(tabCtx, tabCancel)

	if err := t.Navigate(ctx, url); err != nil {
		tabCancel()
		return nil, err
	}
	return t, nil
}

// Close shuts down the CDP connection.
func (d *Driver) Close() {
	d.cancel()
}

func (d *Driver) track(tabCtx context.Context, cancel context.CancelFunc) *chromeTab {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	t := &chromeTab{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
	}
	d.open[id] = t
	d.mu.Unlock()

	// Surface CDP load events as page-ready signals. These race with the
	// agent's own ready announcement; the orchestrator must tolerate both.
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			d.mu.Lock()
			fn := d.onLoad
			d.mu.Unlock()
			if fn != nil {
				go fn(id)
			}
		}
	})

	return t
}

// chromeTab implements tabs.Tab over a chromedp target context.
type chromeTab struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *chromeTab) ID() int { return t.id }

func (t *chromeTab) URL(ctx context.Context) (string, error) {
	var url string
	err := t.run(ctx, chromedp.Location(&url))
	return url, err
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (t *chromeTab) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	err := t.run(ctx, chromedp.Evaluate(expr, &found))
	return found, err
}

func (t *chromeTab) Click(ctx context.Context, selector string) error {
	var clicked bool
	expr := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) return false; el.click(); return true; })()`,
		selector,
	)
	if err := t.run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return tabs.ErrNoElement
	}
	return nil
}

// ClickByText collects candidate texts, matches them in Go so the full
// regexp syntax (including inline flags) works, and clicks the winner.
func (t *chromeTab) ClickByText(ctx context.Context, selector, pattern string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("bad text pattern %q: %w", pattern, err)
	}

	var texts []string
	collect := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => (el.innerText || el.textContent || "").trim())`,
		selector,
	)
	if err := t.run(ctx, chromedp.Evaluate(collect, &texts)); err != nil {
		return false, err
	}

	for i, text := range texts {
		if text == "" || !re.MatchString(text) {
			continue
		}

		var clicked bool
		click := fmt.Sprintf(
			`(() => { const el = document.querySelectorAll(%q)[%d]; if (!el) return false; el.click(); return true; })()`,
			selector, i,
		)
		if err := t.run(ctx, chromedp.Evaluate(click, &clicked)); err != nil {
			return false, err
		}
		return clicked, nil
	}

	return false, nil
}

func (t *chromeTab) Fill(ctx context.Context, selector, value string) error {
	return t.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (t *chromeTab) Close(ctx context.Context) error {
	if err := chromedp.Cancel(t.ctx); err != nil {
		log.Printf("⚠️ Tab %d close: %v", t.id, err)
		t.cancel()
	}
	return nil
}

// run executes chromedp actions against the tab, bounded by the caller's
// context deadline or a 30s cap.
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := t.ctx
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(t.ctx, deadline)
	} else {
		runCtx, cancel = context.WithTimeout(t.ctx, 30*time.Second)
	}
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}
