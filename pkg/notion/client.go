// Package notion wraps the Notion API calls that treat a database as a
// table: read its properties, add text columns, page through rows and
// create or update pages.
package notion

import (
	"context"
	"errors"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Notion API operations used by this application.
type Client interface {
	GetDatabase(ctx context.Context, dbID string) (*notionapi.Database, error)
	UpdateDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseUpdateRequest) (*notionapi.Database, error)
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// DefaultRatePerSecond is Notion's documented average request rate.
const DefaultRatePerSecond = 3

// ClientOption configures the Notion client.
type ClientOption func(*client)

// WithRateLimit overrides DefaultRatePerSecond. Zero or less disables
// client-side throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithHTTPClient routes API calls through hc.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *client) { c.httpClient = hc }
}

type client struct {
	api        *notionapi.Client
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient creates a Client for an integration token.
func NewClient(token string, opts ...ClientOption) Client {
	c := &client{limiter: rate.NewLimiter(DefaultRatePerSecond, 1)}
	for _, opt := range opts {
		opt(c)
	}
	var apiOpts []notionapi.ClientOption
	if c.httpClient != nil {
		apiOpts = append(apiOpts, notionapi.WithHTTPClient(c.httpClient))
	}
	c.api = notionapi.NewClient(notionapi.Token(token), apiOpts...)
	return c
}

// call waits for the limiter, then runs fn and wraps its error with op.
func call[T any](ctx context.Context, c *client, op string, fn func() (T, error)) (T, error) {
	var zero T
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, eris.Wrap(err, "notion: rate limit")
		}
	}
	v, err := fn()
	if err != nil {
		return zero, eris.Wrapf(err, "notion: %s", op)
	}
	return v, nil
}

func (c *client) GetDatabase(ctx context.Context, dbID string) (*notionapi.Database, error) {
	return call(ctx, c, "get database "+dbID, func() (*notionapi.Database, error) {
		return c.api.Database.Get(ctx, notionapi.DatabaseID(dbID))
	})
}

func (c *client) UpdateDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseUpdateRequest) (*notionapi.Database, error) {
	return call(ctx, c, "update database "+dbID, func() (*notionapi.Database, error) {
		return c.api.Database.Update(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *client) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *client) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "create page", func() (*notionapi.Page, error) {
		return c.api.Page.Create(ctx, req)
	})
}

func (c *client) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "update page "+pageID, func() (*notionapi.Page, error) {
		return c.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}

// StatusCode returns the HTTP status of a Notion API error, or 0 when err
// did not come from the API.
func StatusCode(err error) int {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
