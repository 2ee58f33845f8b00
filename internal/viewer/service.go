package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"iptv-viewer/internal/platform/logger"
	"iptv-viewer/internal/platform/metrics"
)

const (
	msgEnterURL   = "Please enter an M3U playlist URL!"
	msgNoChannels = "M3U loaded, but no channels were found."
)

var (
	// ErrEmptyURL is returned when a load is requested with a blank URL.
	ErrEmptyURL = errors.New("playlist url is empty")

	// ErrStaleLoad is returned when a newer load started while this one was
	// in flight. Its result is discarded so the last request wins.
	ErrStaleLoad = errors.New("playlist load superseded by a newer request")
)

// Service sequences the fetcher, parser, channel list and playback controller
// for one viewer.
type Service struct {
	fetcher PlaylistFetcher
	player  *Controller
	list    *ChannelList
	prefs   Preferences
	status  *StatusBoard
	log     *slog.Logger
	metrics *metrics.Metrics

	// statusMu orders generation bumps against load status reports.
	statusMu   sync.Mutex
	generation atomic.Uint64

	renderMu    sync.Mutex
	playlistURL atomic.Value // string, URL of the rendered playlist
}

// ServiceConfig wires a Service. Status should be the controller's board too;
// fetch statuses reach it through the Service, which drops superseded ones.
type ServiceConfig struct {
	Fetcher     PlaylistFetcher
	Player      *Controller
	Preferences Preferences
	Status      *StatusBoard
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// NewService returns a Service with an empty channel list.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Preferences == nil {
		cfg.Preferences = NewMemoryPreferences()
	}
	if cfg.Status == nil {
		cfg.Status = NewStatusBoard(cfg.Logger)
	}
	return &Service{
		fetcher: cfg.Fetcher,
		player:  cfg.Player,
		list:    NewChannelList(cfg.Player),
		prefs:   cfg.Preferences,
		status:  cfg.Status,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// LoadPlaylist fetches and parses rawURL, renders the result and plays the
// first channel. It returns the number of channels rendered.
//
// A failed fetch leaves the previous list in place. A load that completes
// after a newer one started returns ErrStaleLoad without rendering, and its
// fetch statuses are dropped once the newer load has begun.
func (s *Service) LoadPlaylist(ctx context.Context, rawURL string) (int, error) {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		s.status.Report(errorStatus(msgEnterURL))
		return 0, ErrEmptyURL
	}

	s.statusMu.Lock()
	gen := s.generation.Add(1)
	s.statusMu.Unlock()

	text, err := s.fetcher.Fetch(ctx, u, loadStatus{svc: s, gen: gen})
	if err != nil {
		if gen != s.generation.Load() {
			s.metrics.ObservePlaylistLoad("stale")
			return 0, fmt.Errorf("%w: %v", ErrStaleLoad, err)
		}
		s.metrics.ObservePlaylistLoad("failed")
		return 0, err
	}
	channels := Parse(text)

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	if gen != s.generation.Load() {
		s.metrics.ObservePlaylistLoad("stale")
		s.log.Info("discarding stale playlist load", slog.String("url", u), slog.Uint64("generation", gen))
		return 0, ErrStaleLoad
	}

	s.list.Render(channels)
	s.playlistURL.Store(u)
	s.metrics.SetChannelsLoaded(len(channels))
	s.log.Info("playlist rendered", slog.String("url", u), slog.Int("channels", len(channels)))

	if len(channels) == 0 {
		s.metrics.ObservePlaylistLoad("empty")
		s.status.Report(errorStatus(msgNoChannels))
		return 0, nil
	}

	s.metrics.ObservePlaylistLoad("ok")
	if err := s.list.Activate(0); err != nil {
		return len(channels), err
	}
	return len(channels), nil
}

// Select plays the channel at index and marks it active.
func (s *Service) Select(index int) error {
	return s.list.Activate(index)
}

// RememberURL stores rawURL (trimmed) as the last-used playlist URL.
func (s *Service) RememberURL(ctx context.Context, rawURL string) error {
	return s.prefs.SetLastPlaylistURL(ctx, strings.TrimSpace(rawURL))
}

// LastURL returns the stored playlist URL, "" when none was stored.
func (s *Service) LastURL(ctx context.Context) (string, error) {
	return s.prefs.LastPlaylistURL(ctx)
}

// Snapshot returns the current list, status and playback session.
func (s *Service) Snapshot() Snapshot {
	playlistURL, _ := s.playlistURL.Load().(string)
	return Snapshot{
		PlaylistURL: playlistURL,
		Channels:    s.list.View(),
		Status:      s.status.Current(),
		Playback:    s.player.Info(),
	}
}

// ChannelCount returns the number of rendered channels.
func (s *Service) ChannelCount() int {
	return s.list.Len()
}

// loadStatus forwards fetch statuses of one load while it is still the latest.
type loadStatus struct {
	svc *Service
	gen uint64
}

func (l loadStatus) Report(st Status) {
	l.svc.statusMu.Lock()
	defer l.svc.statusMu.Unlock()
	if l.gen != l.svc.generation.Load() {
		return
	}
	l.svc.status.Report(st)
}

// Close releases the playback session.
func (s *Service) Close() error {
	return s.player.Close()
}
