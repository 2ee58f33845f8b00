package viewer

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-KEY:METHOD=AES-128,URI="keys/k1.bin"
#EXTINF:6.0,
seg1.ts
#EXTINF:6.0,
http://cdn.example.com/abs/seg2.ts
`

func newTestProxy(rt *routeTransport, publicBase string) *ProxyHandler {
	return NewProxyHandler(&http.Client{Transport: rt}, publicBase, nil, nil)
}

func proxyGet(p http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target), nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func TestProxyHandler_rejects_bad_target(t *testing.T) {
	p := newTestProxy(newRouteTransport(), "")

	for _, target := range []string{"", "not a url", "/relative/path", "ftp://host/list.m3u"} {
		req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target), nil)
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		assert.Equal(t, ProxyRejectStatus, rec.Code, "target %q", target)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestProxyHandler_passthrough(t *testing.T) {
	rt := newRouteTransport()
	rt.handle("http://media.example.com/clip.ts", func() *http.Response {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"video/mp2t"}, "Set-Cookie": []string{"a=b"}},
			Body:       io.NopCloser(strings.NewReader("binary-segment")),
		}
	})
	p := newTestProxy(rt, "")

	rec := proxyGet(p, "http://media.example.com/clip.ts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "binary-segment", rec.Body.String())
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
}

func TestProxyHandler_upstream_status(t *testing.T) {
	rt := newRouteTransport()
	p := newTestProxy(rt, "")

	rec := proxyGet(p, "http://media.example.com/missing.ts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, rt.hitCount("http://media.example.com/missing.ts"))
}

func TestProxyHandler_rewrites_hls_manifest(t *testing.T) {
	rt := newRouteTransport()
	rt.serve("http://cdn.example.com/live/index.m3u8", http.StatusOK, mediaManifest)
	p := newTestProxy(rt, "https://viewer.example.com")

	rec := proxyGet(p, "http://cdn.example.com/live/index.m3u8")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	endpoint := "https://viewer.example.com/proxy"
	assert.Contains(t, body, `URI="`+ProxyURL(endpoint, "http://cdn.example.com/live/keys/k1.bin")+`"`)
	assert.Contains(t, body, ProxyURL(endpoint, "http://cdn.example.com/live/seg1.ts"))
	assert.Contains(t, body, ProxyURL(endpoint, "http://cdn.example.com/abs/seg2.ts"))
	assert.Contains(t, body, "#EXT-X-TARGETDURATION:6")
	assert.Empty(t, rec.Header().Get("Content-Length"))
}

func TestProxyHandler_leaves_channel_playlist(t *testing.T) {
	rt := newRouteTransport()
	rt.serve("http://lists.example.com/tv.m3u", http.StatusOK, twoChannelPlaylist)
	p := newTestProxy(rt, "")

	rec := proxyGet(p, "http://lists.example.com/tv.m3u")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, twoChannelPlaylist, rec.Body.String())
	assert.Len(t, Parse(rec.Body.String()), 2)
}

func TestProxyHandler_derives_endpoint_from_request(t *testing.T) {
	rt := newRouteTransport()
	rt.serve("http://cdn.example.com/live/index.m3u8", http.StatusOK, mediaManifest)
	p := newTestProxy(rt, "")

	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape("http://cdn.example.com/live/index.m3u8"), nil)
	req.Host = "viewer.local:8080"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), ProxyURL("http://viewer.local:8080/proxy", "http://cdn.example.com/live/seg1.ts"))
}

func TestProxyHandler_methods(t *testing.T) {
	p := newTestProxy(newRouteTransport(), "")

	req := httptest.NewRequest(http.MethodOptions, "/proxy", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/proxy?url="+url.QueryEscape("http://a/b"), nil)
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRewriteManifest_master(t *testing.T) {
	base, _ := url.Parse("http://cdn.example.com/live/master.m3u8")
	in := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nlow/index.m3u8\n\n#EXT-X-STREAM-INF:BANDWIDTH=2560000\nhigh/index.m3u8\n"

	out := RewriteManifest(in, base, "http://p/proxy")

	lines := strings.Split(out, "\n")
	assert.Equal(t, ProxyURL("http://p/proxy", "http://cdn.example.com/live/low/index.m3u8"), lines[2])
	assert.Equal(t, "", lines[3])
	assert.Equal(t, ProxyURL("http://p/proxy", "http://cdn.example.com/live/high/index.m3u8"), lines[5])
	assert.Equal(t, "#EXT-X-STREAM-INF:BANDWIDTH=1280000", lines[1])
}
