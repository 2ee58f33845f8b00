package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"

	"iptv-viewer/internal/platform/logger"
)

const (
	// DefaultRefreshFailureLimit is the number of consecutive failed live
	// refreshes after which the decoder gives up with a fatal error.
	DefaultRefreshFailureLimit = 3

	defaultTargetDuration = 6 * time.Second
)

var errNoVariants = errors.New("master playlist has no variants")

// HLSDecoderFactory builds HLSDecoders. Enabled reports the capability.
type HLSDecoderFactory struct {
	Enabled bool
	Client  *http.Client
	Logger  *slog.Logger
	// RefreshInterval overrides the manifest target duration between live refreshes.
	RefreshInterval     time.Duration
	RefreshFailureLimit int
}

// Supported implements DecoderFactory.
func (f *HLSDecoderFactory) Supported() bool {
	return f != nil && f.Enabled
}

// New implements DecoderFactory.
func (f *HLSDecoderFactory) New(on EventHandler) Decoder {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	log := f.Logger
	if log == nil {
		log = logger.Discard()
	}
	limit := f.RefreshFailureLimit
	if limit <= 0 {
		limit = DefaultRefreshFailureLimit
	}
	id := uuid.NewString()
	return &HLSDecoder{
		id:           id,
		client:       client,
		on:           on,
		log:          log.With(slog.String("session_id", id)),
		refreshEvery: f.RefreshInterval,
		failureLimit: limit,
	}
}

// HLSDecoder resolves an HLS manifest (first variant of a master playlist,
// no adaptive switching), hands the source to the attached surface and keeps
// refreshing live media playlists until destroyed.
type HLSDecoder struct {
	id           string
	client       *http.Client
	on           EventHandler
	log          *slog.Logger
	refreshEvery time.Duration
	failureLimit int

	mu        sync.Mutex
	surface   Surface
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
}

// ID returns the decoder session id used in logs.
func (d *HLSDecoder) ID() string { return d.id }

// AttachMedia implements Decoder.
func (d *HLSDecoder) AttachMedia(s Surface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surface = s
}

// Load implements Decoder. Only the first call on an instance has an effect.
func (d *HLSDecoder) Load(sourceURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed || d.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, sourceURL)
}

// Destroy implements Decoder. It blocks until the worker goroutine has exited.
func (d *HLSDecoder) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.log.Debug("decoder destroyed")
}

func (d *HLSDecoder) run(ctx context.Context, sourceURL string) {
	defer close(d.done)

	media, mediaURL, variants, err := d.loadManifest(ctx, sourceURL)
	if err != nil {
		d.emit(ctx, Event{Kind: EventError, Err: asDecodeError(err, true)})
		return
	}

	d.mu.Lock()
	surface := d.surface
	d.mu.Unlock()
	if surface != nil {
		surface.SetSource(sourceURL)
		if err := surface.Load(); err != nil {
			d.log.Warn("surface load failed", slog.String("error", err.Error()))
		}
	}

	live := !media.Closed
	d.emit(ctx, Event{Kind: EventManifestParsed, Variants: variants, Live: live})
	if !live {
		return
	}
	d.refreshLoop(ctx, mediaURL, d.interval(media))
}

// loadManifest fetches sourceURL and, for a master playlist, its first variant.
func (d *HLSDecoder) loadManifest(ctx context.Context, sourceURL string) (*m3u8.MediaPlaylist, string, int, error) {
	pl, err := d.fetchPlaylist(ctx, sourceURL)
	if err != nil {
		return nil, "", 0, err
	}

	var master *m3u8.MasterPlaylist
	switch p := pl.(type) {
	case *m3u8.MediaPlaylist:
		return p, sourceURL, 0, nil
	case *m3u8.MasterPlaylist:
		master = p
	default:
		return nil, "", 0, &DecodeError{Fatal: true, Err: errors.New("unknown playlist type")}
	}

	if len(master.Variants) == 0 || master.Variants[0] == nil {
		return nil, "", 0, &DecodeError{Fatal: true, Err: errNoVariants}
	}
	variantURL, err := resolveReference(sourceURL, master.Variants[0].URI)
	if err != nil {
		return nil, "", 0, &DecodeError{Fatal: true, Err: fmt.Errorf("resolve variant: %w", err)}
	}

	pl, err = d.fetchPlaylist(ctx, variantURL)
	if err != nil {
		return nil, "", 0, err
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, "", 0, &DecodeError{Fatal: true, Err: errors.New("variant is not a media playlist")}
	}
	return media, variantURL, len(master.Variants), nil
}

func (d *HLSDecoder) fetchPlaylist(ctx context.Context, u string) (m3u8.Playlist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &DecodeError{Fatal: true, Err: fmt.Errorf("build manifest request: %w", err)}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &DecodeError{Fatal: true, Err: fmt.Errorf("fetch manifest: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DecodeError{
			Fatal:          true,
			UpstreamStatus: resp.StatusCode,
			Err:            fmt.Errorf("manifest request returned HTTP %d", resp.StatusCode),
		}
	}

	pl, _, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, &DecodeError{Fatal: true, Err: fmt.Errorf("parse manifest: %w", err)}
	}
	return pl, nil
}

// refreshLoop reloads a live media playlist every interval. Failures are
// non-fatal until failureLimit consecutive ones.
func (d *HLSDecoder) refreshLoop(ctx context.Context, mediaURL string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pl, err := d.fetchPlaylist(ctx, mediaURL)
		media, ok := pl.(*m3u8.MediaPlaylist)
		if err == nil && !ok {
			err = &DecodeError{Err: errors.New("refreshed playlist is not a media playlist")}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			fatal := failures >= d.failureLimit
			d.emit(ctx, Event{Kind: EventError, Err: asDecodeError(err, fatal)})
			if fatal {
				return
			}
			continue
		}

		failures = 0
		if media.Closed {
			d.log.Debug("live playlist ended")
			return
		}
	}
}

func (d *HLSDecoder) interval(media *m3u8.MediaPlaylist) time.Duration {
	if d.refreshEvery > 0 {
		return d.refreshEvery
	}
	if td := float64(media.TargetDuration); td > 0 {
		return time.Duration(td * float64(time.Second))
	}
	return defaultTargetDuration
}

// emit delivers ev unless the decoder is being destroyed.
func (d *HLSDecoder) emit(ctx context.Context, ev Event) {
	if ctx.Err() != nil || d.on == nil {
		return
	}
	d.on(ev)
}

func asDecodeError(err error, fatal bool) *DecodeError {
	var de *DecodeError
	if errors.As(err, &de) {
		out := *de
		out.Fatal = fatal
		return &out
	}
	return &DecodeError{Fatal: fatal, Err: err}
}

func resolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
