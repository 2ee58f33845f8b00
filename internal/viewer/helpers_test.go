package viewer

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"iptv-viewer/internal/platform/logger"
)

// recordingSink keeps every reported status.
type recordingSink struct {
	mu       sync.Mutex
	statuses []Status
}

func (s *recordingSink) Report(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *recordingSink) all() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses...)
}

func (s *recordingSink) last() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return Status{}
	}
	return s.statuses[len(s.statuses)-1]
}

// fakeFactory builds fakeDecoders and tracks how many are alive.
type fakeFactory struct {
	supported bool
	// parseOnLoad makes Load emit EventManifestParsed synchronously.
	parseOnLoad bool

	mu      sync.Mutex
	created []*fakeDecoder
	live    int
	maxLive int
}

func (f *fakeFactory) Supported() bool { return f.supported }

func (f *fakeFactory) New(on EventHandler) Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDecoder{factory: f, on: on}
	f.created = append(f.created, d)
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return d
}

func (f *fakeFactory) liveCount() (live, maxLive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, f.maxLive
}

func (f *fakeFactory) decoders() []*fakeDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeDecoder(nil), f.created...)
}

type fakeDecoder struct {
	factory *fakeFactory
	on      EventHandler

	mu        sync.Mutex
	source    string
	surface   Surface
	destroyed bool
}

func (d *fakeDecoder) AttachMedia(s Surface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surface = s
}

func (d *fakeDecoder) Load(sourceURL string) {
	d.mu.Lock()
	d.source = sourceURL
	d.mu.Unlock()
	if d.factory.parseOnLoad {
		d.on(Event{Kind: EventManifestParsed})
	}
}

func (d *fakeDecoder) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	d.factory.mu.Lock()
	d.factory.live--
	d.factory.mu.Unlock()
}

func (d *fakeDecoder) emit(ev Event) { d.on(ev) }

func (d *fakeDecoder) loadedSource() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

// fakeSurface is a scriptable playback surface.
type fakeSurface struct {
	native  bool
	playErr error

	mu     sync.Mutex
	source string
	loads  int
	plays  int
	stops  int
	closed bool
}

func (s *fakeSurface) CanPlayType(mimeType string) bool { return s.native && isHLSType(mimeType) }

func (s *fakeSurface) SetSource(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = u
}

func (s *fakeSurface) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return nil
}

func (s *fakeSurface) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.playErr
}

func (s *fakeSurface) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.source = ""
	return nil
}

func (s *fakeSurface) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSurface) snapshot() (source string, loads, plays int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source, s.loads, s.plays
}

// fakeFetcher returns canned text or an error, optionally blocking until released.
type fakeFetcher struct {
	mu      sync.Mutex
	texts   map[string]string
	errs    map[string]error
	gates   map[string]chan struct{}
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		texts: map[string]string{},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, u string, _ StatusSink) (string, error) {
	f.mu.Lock()
	gate := f.gates[u]
	text, err := f.texts[u], f.errs[u]
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- u
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

// routeTransport serves canned responses without touching the network.
type routeTransport struct {
	mu     sync.Mutex
	routes map[string]func() *http.Response
	hits   map[string]int
}

func newRouteTransport() *routeTransport {
	return &routeTransport{routes: map[string]func() *http.Response{}, hits: map[string]int{}}
}

func (rt *routeTransport) handle(u string, fn func() *http.Response) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes[u] = fn
}

func (rt *routeTransport) serve(u string, code int, body string) {
	rt.handle(u, func() *http.Response { return textResponse(code, body) })
}

func (rt *routeTransport) hitCount(u string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.hits[u]
}

func (rt *routeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	u := req.URL.String()
	rt.mu.Lock()
	fn := rt.routes[u]
	rt.hits[u]++
	rt.mu.Unlock()

	if fn == nil {
		return textResponse(http.StatusNotFound, "not found"), nil
	}
	resp := fn()
	resp.Request = req
	return resp, nil
}

func textResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     http.Header{"Content-Type": []string{"application/vnd.apple.mpegurl"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestController(factory DecoderFactory, surface Surface, sink StatusSink) *Controller {
	if surface == nil {
		surface = &fakeSurface{}
	}
	return NewController(ControllerConfig{
		Decoders: factory,
		Surface:  surface,
		Status:   sink,
		Logger:   logger.Discard(),
	})
}
