// Package fetcher resolves an input feed reference to a local file. Feeds
// may be local paths, HTTP(S) or FTP URLs, optionally packed in a ZIP
// archive holding a single feed file.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/resilience"
)

// Fetcher downloads a remote feed.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Options configures remote downloads.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond throttles HTTP requests. Zero uses the default.
	RatePerSecond float64
	Retry         resilience.RetryConfig
}

// Resolve returns a local path for ref. Remote feeds are downloaded into
// dir; ZIP archives are unpacked into dir and the feed file inside is
// returned.
func Resolve(ctx context.Context, ref, dir string, opts Options) (string, error) {
	local, err := fetchRemote(ctx, ref, dir, opts)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(local); err != nil {
		return "", eris.Wrapf(err, "fetcher: input %s", local)
	}
	if strings.EqualFold(filepath.Ext(local), ".zip") {
		return ExtractFeed(local, dir)
	}
	return local, nil
}

func fetchRemote(ctx context.Context, ref, dir string, opts Options) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain paths, including Windows drive letters
		return ref, nil
	}

	var f Fetcher
	switch u.Scheme {
	case "http", "https":
		f = NewHTTPFetcher(opts)
	case "ftp":
		f = NewFTPFetcher(FTPOptions{Timeout: opts.Timeout})
	case "file":
		return u.Path, nil
	default:
		return "", eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", eris.Errorf("fetcher: cannot derive a file name from %s", ref)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "fetcher: create %s", dir)
	}
	dest := filepath.Join(dir, name)

	start := time.Now()
	n, err := DownloadToFile(ctx, f, ref, dest)
	if err != nil {
		return "", err
	}
	zap.L().Info("fetcher: downloaded input feed",
		zap.String("url", u.Redacted()),
		zap.String("path", dest),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return dest, nil
}

// DownloadToFile streams rawURL into dest and returns the bytes written.
func DownloadToFile(ctx context.Context, f Fetcher, rawURL, dest string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	n, err := io.Copy(file, body)
	if err != nil {
		file.Close() //nolint:errcheck
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, eris.Wrap(file.Close(), "fetcher: close file")
}
