package sink

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/pkg/notion"
)

// NotionTable is a RemoteTable backed by a Notion database. Properties are
// the columns and pages are the rows; row references are page ids. The
// database's title property carries the key when no value is given for it.
type NotionTable struct {
	client notion.Client
	dbID   string

	title string
	types map[string]notionapi.PropertyConfigType
}

// NewNotionTable addresses the database dbID.
func NewNotionTable(client notion.Client, dbID string) *NotionTable {
	return &NotionTable{client: client, dbID: dbID}
}

// Header returns the database properties, title first.
func (t *NotionTable) Header(ctx context.Context) ([]string, error) {
	db, err := t.client.GetDatabase(ctx, t.dbID)
	if err != nil {
		return nil, notionError(err)
	}
	t.remember(db)
	return notion.PropertyNames(db), nil
}

func (t *NotionTable) remember(db *notionapi.Database) {
	t.title, _ = notion.TitleColumn(db)
	t.types = make(map[string]notionapi.PropertyConfigType, len(db.Properties))
	for name, cfg := range db.Properties {
		t.types[name] = cfg.GetType()
	}
}

// SetHeader adds every column of header the database lacks as a rich text
// property. Notion has no column order, so existing properties are left
// untouched.
func (t *NotionTable) SetHeader(ctx context.Context, header []string) error {
	if t.types == nil {
		if _, err := t.Header(ctx); err != nil {
			return err
		}
	}
	var missing []string
	for _, h := range header {
		if _, ok := t.types[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	db, err := t.client.UpdateDatabase(ctx, t.dbID, notion.RichTextColumns(missing))
	if err != nil {
		return notionError(err)
	}
	t.remember(db)
	return nil
}

// Index maps each page's keyColumn text to its page id.
func (t *NotionTable) Index(ctx context.Context, keyColumn string) (map[string]string, error) {
	pages, err := notion.QueryAll(ctx, t.client, t.dbID)
	if err != nil {
		return nil, notionError(err)
	}
	idx := make(map[string]string, len(pages))
	for _, p := range pages {
		prop, ok := p.Properties[keyColumn]
		if !ok && t.title != "" {
			prop, ok = p.Properties[t.title]
		}
		if !ok {
			continue
		}
		if key := notion.PlainText(prop); key != "" {
			idx[key] = string(p.ID)
		}
	}
	return idx, nil
}

// Update overwrites the text properties of page ref.
func (t *NotionTable) Update(ctx context.Context, ref string, header, values []string) error {
	props, err := t.properties(header, values)
	if err != nil {
		return err
	}
	_, err = t.client.UpdatePage(ctx, ref, &notionapi.PageUpdateRequest{Properties: props})
	return notionError(err)
}

// Append creates a page and returns its id.
func (t *NotionTable) Append(ctx context.Context, header, values []string) (string, error) {
	props, err := t.properties(header, values)
	if err != nil {
		return "", err
	}
	page, err := t.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(t.dbID),
		},
		Properties: props,
	})
	if err != nil {
		return "", notionError(err)
	}
	return string(page.ID), nil
}

// properties converts an aligned row into page properties. Columns that are
// neither title nor rich text were added out of band and are only written
// when they would stay empty.
func (t *NotionTable) properties(header, values []string) (notionapi.Properties, error) {
	if len(values) != len(header) {
		return nil, eris.Wrapf(ErrRowShape, "notion: %d values for %d columns", len(values), len(header))
	}
	var key string
	for i, h := range header {
		if h == KeyColumn {
			key = values[i]
		}
	}
	props := make(notionapi.Properties, len(header))
	for i, h := range header {
		v := values[i]
		switch t.types[h] {
		case notionapi.PropertyConfigTypeTitle:
			if v == "" {
				v = key
			}
			props[h] = notion.Title(v)
		case notionapi.PropertyConfigTypeRichText, "":
			props[h] = notion.RichText(v)
		default:
			if v != "" {
				return nil, eris.Wrapf(ErrRowShape, "notion: column %q is not a text property", h)
			}
		}
	}
	return props, nil
}

// notionError tags API failures as transient or permanent by HTTP status.
func notionError(err error) error {
	if err == nil {
		return nil
	}
	if status := notion.StatusCode(err); status != 0 {
		return resilience.FromHTTPStatus(err, status)
	}
	return err
}
