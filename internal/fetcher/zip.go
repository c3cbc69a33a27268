package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FeedExtensions are the file types recognised as input feeds.
var FeedExtensions = []string{".json", ".jsonl", ".ndjson", ".csv", ".tsv", ".xlsx"}

// IsFeedFile reports whether name has a feed extension.
func IsFeedFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range FeedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ExtractFeed unpacks the single feed file of a ZIP archive into destDir.
// Directories, hidden files and non-feed files are ignored; more than one
// feed file is an error because input order must be stable.
func ExtractFeed(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var feeds []*zip.File
	for _, f := range r.File {
		base := filepath.Base(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(base, ".") || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if IsFeedFile(f.Name) {
			feeds = append(feeds, f)
		}
	}
	if len(feeds) != 1 {
		return "", eris.Errorf("zip: expected exactly 1 feed file in %s, got %d", zipPath, len(feeds))
	}
	return extractZIPEntry(feeds[0], destDir)
}

// extractZIPEntry writes one archive entry below destDir.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close() //nolint:errcheck
		return "", eris.Wrap(err, "zip: write file")
	}
	return destPath, eris.Wrap(out.Close(), "zip: close file")
}
