package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/storage"
)

// DOM selectors of the marketplace web UI.
const (
	selEmailInput     = `input[name="email"]`
	selSubmit         = `button[type='submit']`
	selCodeInputs     = `input[type="number"]`
	selCompletedTab   = `a:has-text('Завершённые')`
	selCardsBox       = `div.MuiBox-root.mui-style-vbsxzt`
	selCard           = `div.MuiBox-root.mui-style-4g6ai3`
	selRepublishStep1 = `button.MuiBox-root.mui-style-3mvi7t`
	selRepublishStep2 = `button.MuiBox-root.mui-style-1ljgpjy`
	selRepublishStep3 = `button.MuiBox-root.mui-style-p0ojd3`
	selRepublishDone  = `div.MuiBox-root.mui-style-10vt5r9`

	textUnknownEmail = "Такой почты не существует"
	textRateLimited  = "нельзя запрашивать чаще одного раза в 60 секунд"
)

const (
	browserMaxCards  = 10
	tabActivateTries = 5
	// DefaultOfferID is reported by the browser driver, where the republish
	// flow always applies the site's preselected priority status.
	DefaultOfferID = "default"
)

// BrowserOptions configures a BrowserClient.
type BrowserOptions struct {
	BaseURL     string
	LoginPath   string // defaults to "/login"
	ProfilePath string // seller profile page, e.g. "/profile/<username>/products"
	Headless    bool
	UserAgents  []string
	RotateEvery int
	StepTimeout time.Duration
	// Settle is the pause after form submissions while the page reacts.
	Settle time.Duration
}

// BrowserClient automates a Chromium instance. The storage-state JSON of the
// browser context is the session artifact. One operation runs at a time.
type BrowserClient struct {
	opts     BrowserOptions
	sessions *storage.SessionStore
	agents   *Rotator
	logger   *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	// pending holds the login page between RequestLoginCode and VerifyLoginCode.
	pending playwright.BrowserContext
	page    playwright.Page
}

var _ Client = (*BrowserClient)(nil)

// NewBrowserClient validates opts. The browser itself starts lazily.
func NewBrowserClient(opts BrowserOptions, sessions *storage.SessionStore, counters *storage.CounterStore, logger *slog.Logger) (*BrowserClient, error) {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if opts.BaseURL == "" {
		return nil, errors.New("marketplace: BaseURL is required")
	}
	if opts.ProfilePath == "" {
		return nil, errors.New("marketplace: ProfilePath is required for the browser driver")
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserClient{
		opts:     opts,
		sessions: sessions,
		agents:   NewRotator(opts.UserAgents, opts.RotateEvery, counters, logger),
		logger:   logger.With(slog.String("component", "marketplace.browser")),
	}, nil
}

func (c *BrowserClient) ensureBrowser() error {
	if c.browser != nil {
		return nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("marketplace: start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(c.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-popup-blocking",
			"--disable-default-apps",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("marketplace: launch chromium: %w", err)
	}
	c.pw, c.browser = pw, browser
	c.logger.Info("browser launched", slog.Bool("headless", c.opts.Headless))
	return nil
}

// newContext opens a browser context, restoring the stored session when withSession is set.
func (c *BrowserClient) newContext(withSession bool) (playwright.BrowserContext, error) {
	if err := c.ensureBrowser(); err != nil {
		return nil, err
	}
	opts := playwright.BrowserNewContextOptions{
		Locale:    playwright.String("ru-RU"),
		UserAgent: playwright.String(c.agents.Current()),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
	}
	if withSession {
		if !c.sessions.Exists() {
			return nil, apperr.ErrNotAuthenticated
		}
		opts.StorageStatePath = playwright.String(c.sessions.Path())
	}
	bctx, err := c.browser.NewContext(opts)
	if err != nil {
		c.agents.Fail()
		return nil, fmt.Errorf("marketplace: new context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(c.opts.StepTimeout.Milliseconds()))
	return bctx, nil
}

func (c *BrowserClient) saveState(bctx playwright.BrowserContext) error {
	state, err := bctx.StorageState()
	if err != nil {
		return fmt.Errorf("marketplace: read storage state: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marketplace: encode storage state: %w", err)
	}
	return c.sessions.Save(data)
}

func (c *BrowserClient) dropPending() {
	if c.pending != nil {
		_ = c.pending.Close()
	}
	c.pending, c.page = nil, nil
}

// RequestLoginCode submits the email form and keeps the page open for the code step.
func (c *BrowserClient) RequestLoginCode(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPending()

	bctx, err := c.newContext(false)
	if err != nil {
		return err
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return fmt.Errorf("marketplace: new page: %w", err)
	}
	if err := c.requestCode(ctx, page, email); err != nil {
		_ = bctx.Close()
		return err
	}
	c.pending, c.page = bctx, page
	return nil
}

func (c *BrowserClient) requestCode(ctx context.Context, page playwright.Page, email string) error {
	if _, err := page.Goto(c.opts.BaseURL + c.opts.LoginPath); err != nil {
		c.agents.Fail()
		return fmt.Errorf("marketplace: open login page: %w", err)
	}
	c.agents.Tick()
	if err := page.Locator(selEmailInput).Fill(email); err != nil {
		return fmt.Errorf("marketplace: fill email: %w", err)
	}
	if err := page.Locator(selSubmit).Click(); err != nil {
		return fmt.Errorf("marketplace: submit email: %w", err)
	}
	if err := sleepCtx(ctx, c.opts.Settle); err != nil {
		return err
	}
	if visible(page, textUnknownEmail) {
		return apperr.ErrUnknownEmail
	}
	if visible(page, textRateLimited) {
		return apperr.ErrRateLimited
	}
	c.logger.Info("login code requested")
	return nil
}

func visible(page playwright.Page, text string) bool {
	ok, err := page.Locator("p", playwright.PageLocatorOptions{HasText: text}).IsVisible()
	return err == nil && ok
}

// VerifyLoginCode fills the code inputs on the pending login page.
func (c *BrowserClient) VerifyLoginCode(ctx context.Context, email, code string) (*models.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil, fmt.Errorf("marketplace: no pending login for %s: %w", email, apperr.ErrInvalidCode)
	}

	inputs, err := c.page.Locator(selCodeInputs).All()
	if err != nil || len(inputs) == 0 {
		return nil, fmt.Errorf("marketplace: code inputs not found: %w", apperr.ErrInvalidCode)
	}
	for _, in := range inputs {
		if err := in.Fill(code); err != nil {
			return nil, fmt.Errorf("marketplace: fill code: %w", err)
		}
	}
	if err := sleepCtx(ctx, c.opts.Settle); err != nil {
		return nil, err
	}
	// A rejected code leaves the browser on the login page.
	if strings.Contains(c.page.URL(), c.opts.LoginPath) {
		return nil, apperr.ErrInvalidCode
	}
	if err := c.saveState(c.pending); err != nil {
		return nil, err
	}
	c.dropPending()

	id := &models.Identity{Username: email}
	c.logger.Info("authenticated", slog.String("email", email))
	return id, nil
}

// CheckAuthenticated opens the profile page and reports whether it stays there.
func (c *BrowserClient) CheckAuthenticated(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	bctx, err := c.newContext(true)
	if err != nil {
		c.logger.Warn("auth check failed", slog.String("error", err.Error()))
		return false
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return false
	}
	if _, err := page.Goto(c.opts.BaseURL + c.opts.ProfilePath); err != nil {
		c.agents.Fail()
		c.logger.Warn("auth check failed", slog.String("error", err.Error()))
		return false
	}
	c.agents.Tick()
	if sleepCtx(ctx, c.opts.Settle) != nil {
		return false
	}
	if strings.Contains(page.URL(), c.opts.LoginPath) {
		return false
	}
	if err := c.saveState(bctx); err != nil {
		c.logger.Warn("refresh storage state failed", slog.String("error", err.Error()))
	}
	return true
}

// ListItems reads the cards on the "completed" tab of the profile. Only
// completed and expired listings are visible to this driver.
func (c *BrowserClient) ListItems(ctx context.Context, statuses []models.ListingStatus) ([]models.Listing, error) {
	if !wantsCompleted(statuses) {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	bctx, err := c.newContext(true)
	if err != nil {
		return nil, err
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("marketplace: new page: %w", err)
	}
	if _, err := page.Goto(c.opts.BaseURL + c.opts.ProfilePath); err != nil {
		c.agents.Fail()
		return nil, fmt.Errorf("marketplace: open profile: %w", err)
	}
	c.agents.Tick()

	if err := c.activateCompletedTab(ctx, page); err != nil {
		return nil, err
	}
	if err := page.Locator(selCardsBox).First().WaitFor(); err != nil {
		return nil, fmt.Errorf("marketplace: cards container: %w", err)
	}
	cards, err := page.Locator(selCard).All()
	if err != nil {
		return nil, fmt.Errorf("marketplace: cards: %w", err)
	}
	if len(cards) > browserMaxCards {
		cards = cards[:browserMaxCards]
	}

	out := make([]models.Listing, 0, len(cards))
	for _, card := range cards {
		links, err := card.Locator("a").All()
		if err != nil || len(links) < 2 {
			continue
		}
		title, err := links[1].InnerText()
		if err != nil {
			continue
		}
		href, err := links[1].GetAttribute("href")
		if err != nil || href == "" {
			continue
		}
		slug := slugFromHref(href)
		out = append(out, models.Listing{
			ID:     slug,
			Title:  strings.TrimSpace(title),
			Slug:   slug,
			Status: models.StatusCompleted,
			URL:    ProductURL(c.opts.BaseURL, slug),
		})
	}
	c.logger.Debug("cards read", slog.Int("count", len(out)))
	return out, nil
}

func (c *BrowserClient) activateCompletedTab(ctx context.Context, page playwright.Page) error {
	tab := page.Locator(selCompletedTab)
	for i := 0; i < tabActivateTries; i++ {
		if err := tab.Click(); err != nil {
			return fmt.Errorf("marketplace: completed tab: %w", err)
		}
		class, err := tab.GetAttribute("class")
		if err == nil && strings.Contains(class, "active") {
			return nil
		}
		if err := sleepCtx(ctx, time.Second); err != nil {
			return err
		}
	}
	return fmt.Errorf("marketplace: completed tab not active after %d tries", tabActivateTries)
}

// GetListingRank is not observable through the web UI.
func (c *BrowserClient) GetListingRank(context.Context, string, string) (int, error) {
	return 0, fmt.Errorf("marketplace: rank in browser driver: %w", apperr.ErrNotFound)
}

// GetPriorityStatus reports the preselected offer of the republish dialog.
func (c *BrowserClient) GetPriorityStatus(context.Context, string, int) (*models.PriorityOffer, error) {
	return &models.PriorityOffer{ID: DefaultOfferID, Name: "default"}, nil
}

// Boost has no web UI counterpart here.
func (c *BrowserClient) Boost(context.Context, models.Listing, string) (*models.ActionResult, error) {
	return nil, fmt.Errorf("marketplace: boost in browser driver: %w", apperr.ErrUnsupported)
}

// Republish walks the three-step republish dialog and screenshots the result.
func (c *BrowserClient) Republish(ctx context.Context, listing models.Listing, _ string) (*models.ActionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bctx, err := c.newContext(true)
	if err != nil {
		return nil, err
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("marketplace: new page: %w", err)
	}
	link := ProductURL(c.opts.BaseURL, listing.Slug)
	if _, err := page.Goto(link); err != nil {
		c.agents.Fail()
		return nil, fmt.Errorf("marketplace: open listing: %w", err)
	}
	c.agents.Tick()

	for i, sel := range []string{selRepublishStep1, selRepublishStep2, selRepublishStep3} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		btn := page.Locator(sel).First()
		if err := btn.WaitFor(); err != nil {
			return nil, fmt.Errorf("marketplace: republish step %d: %w", i+1, err)
		}
		if err := btn.Click(); err != nil {
			return nil, fmt.Errorf("marketplace: republish step %d: %w", i+1, err)
		}
	}

	done := page.Locator(selRepublishDone).First()
	if err := done.WaitFor(); err != nil {
		return nil, fmt.Errorf("marketplace: republish result: %w", err)
	}
	if err := sleepCtx(ctx, c.opts.Settle); err != nil {
		return nil, err
	}
	shot, err := done.Screenshot()
	if err != nil {
		c.logger.Warn("screenshot failed", slog.String("error", err.Error()))
	}
	return &models.ActionResult{
		ListingID: listing.ID,
		Link:      link,
		Photo:     models.Photo{Bytes: shot},
	}, nil
}

// Close shuts the browser and the playwright driver down.
func (c *BrowserClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPending()
	var errs []error
	if c.browser != nil {
		errs = append(errs, c.browser.Close())
		c.browser = nil
	}
	if c.pw != nil {
		errs = append(errs, c.pw.Stop())
		c.pw = nil
	}
	return errors.Join(errs...)
}

func wantsCompleted(statuses []models.ListingStatus) bool {
	for _, s := range statuses {
		if s == models.StatusCompleted || s == models.StatusExpired {
			return true
		}
	}
	return false
}

// slugFromHref extracts the listing slug from a product link.
func slugFromHref(href string) string {
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return href
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
