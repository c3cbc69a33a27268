package google

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// MaxCellChars is the longest value written to a cell. Sheets rejects
// cells over 50 000 characters.
const MaxCellChars = 49000

// TruncateCell shortens s to MaxCellChars runes.
func TruncateCell(s string) string {
	if utf8.RuneCountInString(s) <= MaxCellChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxCellChars])
}

// ColumnLetter converts a 1-based column number to its A1 letters
// (1 → A, 27 → AA).
func ColumnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// QuoteSheet quotes a worksheet title for use in an A1 range.
func QuoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// SheetRange addresses the whole worksheet.
func SheetRange(title string) string {
	return QuoteSheet(title)
}

// HeaderRange addresses row 1 of the worksheet.
func HeaderRange(title string) string {
	return QuoteSheet(title) + "!1:1"
}

// RowRange addresses cols columns of a single 1-based row.
func RowRange(title string, row, cols int) string {
	return fmt.Sprintf("%s!A%d:%s%d", QuoteSheet(title), row, ColumnLetter(max(cols, 1)), row)
}

// ParseRowNumber returns the first row number of an A1 range such as
// "'Unified'!A7:AB7".
func ParseRowNumber(rng string) (int, error) {
	cell := rng
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		cell = rng[i+1:]
	}
	if i := strings.Index(cell, ":"); i >= 0 {
		cell = cell[:i]
	}
	digits := strings.TrimLeft(cell, "ABCDEFGHIJKLMNOPQRSTUVWXYZ$")
	n, err := strconv.Atoi(strings.TrimPrefix(digits, "$"))
	if err != nil || n <= 0 {
		return 0, eris.Errorf("google: no row number in range %q", rng)
	}
	return n, nil
}
