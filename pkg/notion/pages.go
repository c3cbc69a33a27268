package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// MaxPageSize is the largest page size the query endpoint accepts.
const MaxPageSize = 100

// EachPage calls fn for every page of database dbID, following cursors
// until the last batch. Archived pages are skipped. An error from fn stops
// the walk and is returned as is.
func EachPage(ctx context.Context, c Client, dbID string, fn func(notionapi.Page) error) error {
	req := &notionapi.DatabaseQueryRequest{PageSize: MaxPageSize}
	for batch := 1; ; batch++ {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return eris.Wrapf(err, "notion: query batch %d", batch)
		}
		for _, p := range resp.Results {
			if p.Archived {
				continue
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return nil
		}
		req = &notionapi.DatabaseQueryRequest{PageSize: MaxPageSize, StartCursor: resp.NextCursor}
	}
}

// QueryAll returns every live page of database dbID.
func QueryAll(ctx context.Context, c Client, dbID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	err := EachPage(ctx, c, dbID, func(p notionapi.Page) error {
		all = append(all, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}
