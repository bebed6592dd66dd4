// Package fetch downloads upload files from remote locations so they
// can be staged without a local copy. HTTP(S) and FTP are supported;
// partner organizations still publish spreadsheets on both.
package fetch

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote file and returns its body.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Open dispatches a URL to the right fetcher by scheme. The caller must
// close the returned reader.
func Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: parse url")
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(HTTPOptions{}).Download(ctx, rawURL)
	case "ftp":
		return NewFTPFetcher(FTPOptions{}).Download(ctx, rawURL)
	default:
		return nil, eris.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
}
