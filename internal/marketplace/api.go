package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/storage"
)

const (
	defaultPageSize    = 16
	defaultHTTPTimeout = 20 * time.Second
	maxResponseBytes   = 4 << 20
)

// APIOptions configures an APIClient.
type APIOptions struct {
	BaseURL           string // public site, used for Origin/Referer and product links
	GraphQLURL        string // defaults to BaseURL + "/graphql"
	PageSize          int
	RequestsPerSecond float64 // 0 disables pacing
	Timeout           time.Duration
	UserAgents        []string
	RotateEvery       int
}

// APIClient drives the marketplace GraphQL API over HTTP using the cookie
// session kept in the SessionStore.
type APIClient struct {
	opts     APIOptions
	client   *http.Client
	sessions *storage.SessionStore
	agents   *Rotator
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Verify *APIClient satisfies Client at compile time.
var _ Client = (*APIClient)(nil)

// NewAPIClient validates opts and builds a client.
func NewAPIClient(opts APIOptions, sessions *storage.SessionStore, counters *storage.CounterStore, logger *slog.Logger) (*APIClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("marketplace: BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("marketplace: invalid BaseURL: %w", err)
	}
	opts.BaseURL = base
	if opts.GraphQLURL == "" {
		opts.GraphQLURL = base + "/graphql"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &APIClient{
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout},
		sessions: sessions,
		agents:   NewRotator(opts.UserAgents, opts.RotateEvery, counters, logger),
		limiter:  limiter,
		logger:   logger.With(slog.String("component", "marketplace.api")),
	}, nil
}

// Close is a no-op for the HTTP driver.
func (c *APIClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// RequestLoginCode triggers delivery of a login code to email.
func (c *APIClient) RequestLoginCode(ctx context.Context, email string) error {
	_, err := c.do(ctx, gqlRequest{
		OperationName: "getEmailAuthCode",
		Query:         opGetEmailAuthCode,
		Variables:     map[string]any{"email": email},
	}, nil, nil)
	if err == nil {
		c.logger.Info("login code requested")
		return nil
	}
	var gerr *GraphQLError
	if errors.As(err, &gerr) {
		switch {
		case gerr.rateLimited():
			return fmt.Errorf("%w: %v", apperr.ErrRateLimited, err)
		case gerr.contains("не существует", "not exist", "not found"):
			return fmt.Errorf("%w: %v", apperr.ErrUnknownEmail, err)
		}
	}
	return err
}

// VerifyLoginCode exchanges the code for a session cookie and persists it.
func (c *APIClient) VerifyLoginCode(ctx context.Context, email, code string) (*models.Identity, error) {
	var data checkCodeData
	cookies, err := c.do(ctx, gqlRequest{
		OperationName: "checkEmailAuthCode",
		Query:         opCheckEmailAuthCode,
		Variables:     map[string]any{"input": map[string]string{"email": email, "code": code}},
	}, nil, &data)
	if err != nil {
		var gerr *GraphQLError
		if errors.As(err, &gerr) {
			switch {
			case gerr.rateLimited():
				return nil, fmt.Errorf("%w: %v", apperr.ErrRateLimited, err)
			case gerr.Status < http.StatusInternalServerError:
				return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidCode, err)
			}
		}
		return nil, err
	}
	if data.CheckEmailAuthCode == nil || len(cookies) == 0 {
		return nil, fmt.Errorf("marketplace: no session issued: %w", apperr.ErrInvalidCode)
	}

	artifact, err := encodeCookies(cookies)
	if err != nil {
		return nil, err
	}
	if err := c.sessions.Save(artifact); err != nil {
		return nil, fmt.Errorf("marketplace: save session: %w", err)
	}
	id := models.Identity{ID: data.CheckEmailAuthCode.ID, Username: data.CheckEmailAuthCode.Username}
	if err := c.sessions.SaveIdentity(id); err != nil {
		c.logger.Warn("save identity failed", slog.String("error", err.Error()))
	}
	c.logger.Info("authenticated", slog.String("username", id.Username))
	return &id, nil
}

// CheckAuthenticated queries the viewer; a null viewer means the session is dead.
func (c *APIClient) CheckAuthenticated(ctx context.Context) bool {
	id, err := c.viewer(ctx)
	if err != nil {
		c.logger.Warn("auth check failed", slog.String("error", err.Error()))
		return false
	}
	if err := c.sessions.SaveIdentity(*id); err != nil {
		c.logger.Warn("refresh identity failed", slog.String("error", err.Error()))
	}
	return true
}

func (c *APIClient) viewer(ctx context.Context) (*models.Identity, error) {
	cookies, err := c.sessionCookies()
	if err != nil {
		return nil, err
	}
	var data viewerData
	if _, err := c.do(ctx, gqlRequest{OperationName: "viewer", Query: opViewer, Variables: map[string]any{}}, cookies, &data); err != nil {
		return nil, err
	}
	if data.Viewer == nil || data.Viewer.ID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	return &models.Identity{ID: data.Viewer.ID, Username: data.Viewer.Username}, nil
}

// ListItems fetches the first page of the seller's listings in the given statuses.
func (c *APIClient) ListItems(ctx context.Context, statuses []models.ListingStatus) ([]models.Listing, error) {
	cookies, err := c.sessionCookies()
	if err != nil {
		return nil, err
	}
	id, err := c.sessions.LoadIdentity()
	if err != nil {
		if id, err = c.viewer(ctx); err != nil {
			return nil, fmt.Errorf("marketplace: resolve seller id: %w", err)
		}
	}

	st := make([]string, len(statuses))
	for i, s := range statuses {
		st[i] = string(s)
	}
	var data itemsData
	_, err = c.do(ctx, gqlRequest{
		OperationName: "items",
		Query:         opItems,
		Variables: map[string]any{
			"pagination": map[string]any{"first": c.opts.PageSize},
			"filter":     map[string]any{"userId": id.ID, "status": st},
		},
	}, cookies, &data)
	if err != nil {
		return nil, err
	}

	out := make([]models.Listing, 0, len(data.Items.Edges))
	seen := make(map[string]struct{}, len(data.Items.Edges))
	for _, e := range data.Items.Edges {
		l, err := e.Node.toListing(c.opts.BaseURL)
		if err != nil {
			c.logger.Warn("skipping listing", slog.String("error", err.Error()))
			continue
		}
		if l.ID == "" {
			continue
		}
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

// GetListingRank returns the live sequence number of a listing.
func (c *APIClient) GetListingRank(ctx context.Context, listingID, slug string) (int, error) {
	cookies, err := c.sessionCookies()
	if err != nil {
		return 0, err
	}
	var data itemData
	if _, err := c.do(ctx, gqlRequest{
		OperationName: "item",
		Query:         opItem,
		Variables:     map[string]any{"slug": slug},
	}, cookies, &data); err != nil {
		return 0, err
	}
	if data.Item == nil || data.Item.Sequence == nil {
		return 0, fmt.Errorf("marketplace: rank of %s: %w", listingID, apperr.ErrNotFound)
	}
	return *data.Item.Sequence, nil
}

// GetPriorityStatus returns the first purchasable priority status, or nil when none.
func (c *APIClient) GetPriorityStatus(ctx context.Context, listingID string, price int) (*models.PriorityOffer, error) {
	cookies, err := c.sessionCookies()
	if err != nil {
		return nil, err
	}
	var data priorityData
	if _, err := c.do(ctx, gqlRequest{
		OperationName: "itemPriorityStatuses",
		Query:         opItemPriorityStatuses,
		Variables:     map[string]any{"itemId": listingID, "price": price},
	}, cookies, &data); err != nil {
		return nil, err
	}
	for _, s := range data.ItemPriorityStatuses {
		if s.ID == "" {
			continue
		}
		return &models.PriorityOffer{ID: s.ID, Name: s.Name, Price: s.Price}, nil
	}
	return nil, nil
}

// Boost buys the priority status for an active listing.
func (c *APIClient) Boost(ctx context.Context, listing models.Listing, offerID string) (*models.ActionResult, error) {
	return c.publish(ctx, "increaseItemPriorityStatus", opIncreaseItemPriorityStatus, listing, offerID)
}

// Republish re-lists a completed or expired listing with the given priority status.
func (c *APIClient) Republish(ctx context.Context, listing models.Listing, offerID string) (*models.ActionResult, error) {
	return c.publish(ctx, "publishItem", opPublishItem, listing, offerID)
}

func (c *APIClient) publish(ctx context.Context, op, query string, listing models.Listing, offerID string) (*models.ActionResult, error) {
	cookies, err := c.sessionCookies()
	if err != nil {
		return nil, err
	}
	data := publishData{}
	if _, err := c.do(ctx, gqlRequest{
		OperationName: op,
		Query:         query,
		Variables: map[string]any{"input": map[string]any{
			"itemId":                listing.ID,
			"priorityStatuses":      []string{offerID},
			"transactionProviderId": transactionProvider,
		}},
	}, cookies, &data); err != nil {
		return nil, err
	}
	item := data[op]
	if item == nil {
		return nil, fmt.Errorf("marketplace: %s returned no item", op)
	}
	slug := item.Slug
	if slug == "" {
		slug = listing.Slug
	}
	return &models.ActionResult{
		ListingID: listing.ID,
		Link:      ProductURL(c.opts.BaseURL, slug),
		Photo:     models.Photo{URL: listing.AttachmentURL},
	}, nil
}

// sessionCookies fails fast when no session is stored.
func (c *APIClient) sessionCookies() ([]*http.Cookie, error) {
	data, err := c.sessions.Load()
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apperr.ErrNotAuthenticated
		}
		return nil, err
	}
	cookies, err := decodeCookies(data)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, apperr.ErrNotAuthenticated
	}
	return cookies, nil
}

// do posts one GraphQL operation. It returns the cookies set by the response.
func (c *APIClient) do(ctx context.Context, gq gqlRequest, cookies []*http.Cookie, out any) ([]*http.Cookie, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(gq)
	if err != nil {
		return nil, fmt.Errorf("marketplace: encode %s: %w", gq.OperationName, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.GraphQLURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.agents.Fail()
		return nil, fmt.Errorf("marketplace: %s: %w", gq.OperationName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.agents.Fail()
		return nil, fmt.Errorf("marketplace: %s: read body: %w", gq.OperationName, err)
	}
	c.logger.Debug("graphql call",
		slog.String("op", gq.OperationName),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	var gr gqlResponse
	decodeErr := json.Unmarshal(body, &gr)

	if resp.StatusCode != http.StatusOK {
		c.agents.Fail()
		if decodeErr == nil && len(gr.Errors) > 0 {
			return nil, newGraphQLError(gq.OperationName, resp.StatusCode, gr.Errors)
		}
		return nil, newGraphQLError(gq.OperationName, resp.StatusCode, nil)
	}
	c.agents.Tick()

	if decodeErr != nil {
		return nil, fmt.Errorf("marketplace: %s: decode: %w", gq.OperationName, decodeErr)
	}
	if len(gr.Errors) > 0 {
		return nil, newGraphQLError(gq.OperationName, resp.StatusCode, gr.Errors)
	}
	if out != nil && len(gr.Data) > 0 {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return nil, fmt.Errorf("marketplace: %s: decode data: %w", gq.OperationName, err)
		}
	}
	return resp.Cookies(), nil
}

func (c *APIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Origin", c.opts.BaseURL)
	req.Header.Set("Referer", c.opts.BaseURL+"/")
	req.Header.Set("User-Agent", c.agents.Current())
	req.Header.Set("apollo-require-preflight", "true")
}

func newGraphQLError(op string, status int, errs []gqlError) *GraphQLError {
	ge := &GraphQLError{Operation: op, Status: status}
	for _, e := range errs {
		ge.Messages = append(ge.Messages, e.Message)
		if e.Extensions.StatusCode != 0 && ge.Status == http.StatusOK {
			ge.Status = e.Extensions.StatusCode
		}
	}
	return ge
}

// storedCookie is the on-disk session artifact for the API driver.
type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

func encodeCookies(cookies []*http.Cookie) ([]byte, error) {
	out := make([]storedCookie, 0, len(cookies))
	for _, ck := range cookies {
		if ck.Name == "" {
			continue
		}
		out = append(out, storedCookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path, Expires: ck.Expires})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marketplace: encode cookies: %w", err)
	}
	return data, nil
}

func decodeCookies(data []byte) ([]*http.Cookie, error) {
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("marketplace: decode session: %w", err)
	}
	out := make([]*http.Cookie, 0, len(stored))
	for _, s := range stored {
		out = append(out, &http.Cookie{Name: s.Name, Value: s.Value, Domain: s.Domain, Path: s.Path, Expires: s.Expires})
	}
	return out, nil
}
