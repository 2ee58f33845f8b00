package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"iptv-viewer/internal/platform/logger"
)

// ProxyRejectStatus is the status a CORS proxy answers with when it refuses
// the target it was given (missing, malformed or disallowed URL).
const ProxyRejectStatus = http.StatusBadRequest

const excerptLimit = 200

const (
	msgLoading = "Loading channel list..."
	msgLoaded  = "Channel list loaded."
)

// FetchError is returned when the playlist response status is not 2xx.
type FetchError struct {
	Status  int
	Excerpt string
	Proxied bool
}

func (e *FetchError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("request failed with HTTP %d", e.Status)
	}
	return fmt.Sprintf("request failed with HTTP %d: %s", e.Status, e.Excerpt)
}

// Rejected reports whether the proxy refused the request rather than the
// upstream failing behind it.
func (e *FetchError) Rejected() bool {
	return e.Proxied && e.Status == ProxyRejectStatus
}

// ProxyURL rewrites target through a CORS proxy: <base>?url=<escaped target>.
// An empty base returns target unchanged.
func ProxyURL(base, target string) string {
	if base == "" {
		return target
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "url=" + url.QueryEscape(target)
}

// PlaylistFetcher retrieves raw playlist text, reporting progress to status.
// The sink is per call so a caller can drop reports from superseded loads.
type PlaylistFetcher interface {
	Fetch(ctx context.Context, playlistURL string, status StatusSink) (string, error)
}

// Fetcher issues a single GET for a playlist, optionally through a proxy, and
// reports loading, loaded and failure statuses. It never retries.
type Fetcher struct {
	client    *http.Client
	proxyBase string
	log       *slog.Logger
}

// NewFetcher returns a Fetcher. A nil client uses http.DefaultClient, which
// has no timeout of its own.
func NewFetcher(client *http.Client, proxyBase string, log *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Fetcher{client: client, proxyBase: proxyBase, log: log}
}

// Fetch implements PlaylistFetcher. Failures are either a *FetchError or a
// wrapped transport error. A nil status discards reports.
func (f *Fetcher) Fetch(ctx context.Context, playlistURL string, status StatusSink) (string, error) {
	if status == nil {
		status = discardStatus{}
	}
	target := ProxyURL(f.proxyBase, playlistURL)
	status.Report(infoStatus(msgLoading))

	text, err := f.get(ctx, target)
	if err != nil {
		status.Report(errorStatus(fetchFailureMessage(err)))
		f.log.Warn("fetch playlist failed",
			slog.String("url", playlistURL),
			slog.Bool("proxied", f.proxyBase != ""),
			slog.String("error", err.Error()))
		return "", err
	}

	status.Report(successStatus(msgLoaded))
	f.log.Debug("playlist fetched", slog.String("url", playlistURL), slog.Int("bytes", len(text)))
	return text, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build playlist request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{
			Status:  resp.StatusCode,
			Excerpt: readExcerpt(resp.Body),
			Proxied: f.proxyBase != "",
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read playlist body: %w", err)
	}
	return string(body), nil
}

// readExcerpt returns up to excerptLimit bytes of r with whitespace collapsed.
// A rune cut at the limit is dropped.
func readExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, excerptLimit))
	return strings.Join(strings.Fields(strings.ToValidUTF8(string(b), "")), " ")
}

func fetchFailureMessage(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Rejected() {
		return fmt.Sprintf("Load failed: upstream proxy rejected the request (HTTP %d). Check the URL and proxy.", fe.Status)
	}
	return fmt.Sprintf("Load failed: %s. Check the URL and proxy.", err.Error())
}
