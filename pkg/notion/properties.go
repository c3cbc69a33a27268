package notion

import (
	"sort"
	"strings"

	"github.com/jomei/notionapi"
)

// MaxTextChars is the Notion limit for a single rich text content block.
const MaxTextChars = 2000

// TextBlocks splits s into rich text blocks of at most MaxTextChars runes.
// An empty string yields an empty, non-nil slice, which clears the property.
func TextBlocks(s string) []notionapi.RichText {
	if s == "" {
		return []notionapi.RichText{}
	}
	runes := []rune(s)
	var out []notionapi.RichText
	for start := 0; start < len(runes); start += MaxTextChars {
		end := min(start+MaxTextChars, len(runes))
		out = append(out, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: string(runes[start:end])},
		})
	}
	return out
}

// Title builds a title property value.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: TextBlocks(s),
	}
}

// RichText builds a rich text property value.
func RichText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: TextBlocks(s),
	}
}

// PlainText returns the concatenated plain text of a title or rich text
// property. Other property kinds return "".
func PlainText(p notionapi.Property) string {
	var blocks []notionapi.RichText
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		blocks = v.Title
	case notionapi.TitleProperty:
		blocks = v.Title
	case *notionapi.RichTextProperty:
		blocks = v.RichText
	case notionapi.RichTextProperty:
		blocks = v.RichText
	default:
		return ""
	}
	var b strings.Builder
	for _, rt := range blocks {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return b.String()
}

// TitleColumn returns the name of the database's title property.
func TitleColumn(db *notionapi.Database) (string, bool) {
	for name, cfg := range db.Properties {
		if cfg.GetType() == notionapi.PropertyConfigTypeTitle {
			return name, true
		}
	}
	return "", false
}

// PropertyNames returns the database's property names with the title
// property first and the rest sorted.
func PropertyNames(db *notionapi.Database) []string {
	title, hasTitle := TitleColumn(db)
	names := make([]string, 0, len(db.Properties))
	for name := range db.Properties {
		if hasTitle && name == title {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if hasTitle {
		names = append([]string{title}, names...)
	}
	return names
}

// RichTextColumns builds an update request adding each name as a rich text
// property.
func RichTextColumns(names []string) *notionapi.DatabaseUpdateRequest {
	props := make(notionapi.PropertyConfigs, len(names))
	for _, name := range names {
		props[name] = notionapi.RichTextPropertyConfig{
			Type: notionapi.PropertyConfigTypeRichText,
		}
	}
	return &notionapi.DatabaseUpdateRequest{Properties: props}
}
