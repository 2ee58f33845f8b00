package viewer

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"iptv-viewer/internal/platform/logger"
	"iptv-viewer/internal/platform/metrics"
)

// maxManifestSize bounds how much of an HLS manifest the proxy buffers for rewriting.
const maxManifestSize = 8 << 20

var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// forwarded request and response headers
var (
	proxyRequestHeaders  = []string{"Range", "User-Agent", "Accept"}
	proxyResponseHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"}
)

// ProxyHandler is a CORS-bypass proxy: GET /proxy?url=<target> returns the
// target body with permissive cross-origin headers. It answers 400 when the
// target is missing or not an absolute http(s) URL.
//
// HLS manifests have their URI lines and URI="..." attributes rewritten back
// through the proxy so segments and keys load cross-origin too. Plain IPTV M3U
// playlists pass through unchanged.
type ProxyHandler struct {
	client     *http.Client
	publicBase string // e.g. "https://viewer.example.com"; derived from the request when empty
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewProxyHandler returns a ProxyHandler. A nil client uses http.DefaultClient.
func NewProxyHandler(client *http.Client, publicBase string, log *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &ProxyHandler{client: client, publicBase: strings.TrimRight(publicBase, "/"), log: log, metrics: m}
}

// ServeHTTP implements http.Handler.
func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	target, ok := parseTarget(r.URL.Query().Get("url"))
	if !ok {
		p.metrics.IncProxyRequests("rejected")
		http.Error(w, "missing or invalid url parameter", ProxyRejectStatus)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), nil)
	if err != nil {
		p.metrics.IncProxyRequests("rejected")
		http.Error(w, "invalid url parameter", ProxyRejectStatus)
		return
	}
	for _, h := range proxyRequestHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.IncProxyRequests("upstream_error")
		p.log.Warn("proxy upstream request failed", slog.String("target", target.Redacted()), slog.String("error", err.Error()))
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	p.metrics.IncProxyRequests("ok")

	if r.Method == http.MethodGet && mightBeManifest(resp.Header.Get("Content-Type"), target.Path) {
		p.serveManifest(w, r, resp, target)
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Debug("proxy copy interrupted", slog.String("error", err.Error()))
	}
}

func (p *ProxyHandler) serveManifest(w http.ResponseWriter, r *http.Request, resp *http.Response, target *url.URL) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		http.Error(w, "read upstream body", http.StatusBadGateway)
		return
	}

	text := string(body)
	if isHLSManifest(text) {
		text = RewriteManifest(text, target, p.proxyEndpoint(r))
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, text)
}

// proxyEndpoint is the absolute URL of this handler as seen by clients.
func (p *ProxyHandler) proxyEndpoint(r *http.Request) string {
	if p.publicBase != "" {
		return p.publicBase + r.URL.Path
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// RewriteManifest resolves every URI in an HLS manifest against base and
// points it at proxyEndpoint.
func RewriteManifest(content string, base *url.URL, proxyEndpoint string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#"):
			lines[i] = uriAttr.ReplaceAllStringFunc(line, func(m string) string {
				ref := uriAttr.FindStringSubmatch(m)[1]
				return `URI="` + proxiedReference(base, ref, proxyEndpoint) + `"`
			})
		default:
			lines[i] = proxiedReference(base, trimmed, proxyEndpoint)
		}
	}
	return strings.Join(lines, "\n")
}

func proxiedReference(base *url.URL, ref, proxyEndpoint string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return ProxyURL(proxyEndpoint, base.ResolveReference(u).String())
}

func parseTarget(raw string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func mightBeManifest(contentType, path string) bool {
	ct := strings.ToLower(contentType)
	p := strings.ToLower(path)
	return strings.Contains(ct, "mpegurl") || strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".m3u")
}

// isHLSManifest distinguishes HLS manifests from IPTV channel playlists, which
// share the #EXTM3U header but carry no #EXT-X- tags.
func isHLSManifest(text string) bool {
	return strings.Contains(text, "#EXT-X-TARGETDURATION") || strings.Contains(text, "#EXT-X-STREAM-INF")
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
}

func copyHeaders(dst, src http.Header) {
	for _, h := range proxyResponseHeaders {
		if v := src.Get(h); v != "" {
			dst.Set(h, v)
		}
	}
}
