package viewer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"iptv-viewer/internal/platform/logger"
	"iptv-viewer/internal/platform/metrics"
)

// HLSMIMEType is the media type probed on a native playback surface.
const HLSMIMEType = "application/vnd.apple.mpegurl"

const msgUnsupported = "Error: HLS/M3U8 playback is not supported."

// ErrUnsupportedPlayback means neither the software decoder nor the surface can play HLS.
var ErrUnsupportedPlayback = errors.New("hls playback not supported")

// EventKind identifies a decoder event.
type EventKind int

const (
	// EventManifestParsed is emitted once the stream manifest was loaded and parsed.
	EventManifestParsed EventKind = iota + 1
	// EventError carries a *DecodeError, fatal or not.
	EventError
)

// Event is delivered by a Decoder to its EventHandler.
type Event struct {
	Kind     EventKind
	Variants int  // variant streams in the manifest, 0 for a media playlist
	Live     bool // manifest has no end list
	Err      *DecodeError
}

// DecodeError is a decoder failure. UpstreamStatus is the HTTP status of the
// failing manifest request, or 0 when the failure was not an HTTP status.
type DecodeError struct {
	Fatal          bool
	UpstreamStatus int
	Err            error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decode error"
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EventHandler receives decoder events. Decoders must not call it after Destroy returns.
type EventHandler func(Event)

// Decoder is a software HLS decoder instance bound to one stream.
type Decoder interface {
	// AttachMedia binds the playback surface the decoder feeds.
	AttachMedia(s Surface)
	// Load starts loading sourceURL. Events are delivered asynchronously.
	Load(sourceURL string)
	// Destroy releases the instance and returns once it has stopped.
	Destroy()
}

// DecoderFactory constructs decoders when the capability is available.
type DecoderFactory interface {
	Supported() bool
	New(on EventHandler) Decoder
}

// Surface is the playback surface, used directly when it handles HLS natively.
type Surface interface {
	CanPlayType(mimeType string) bool
	SetSource(sourceURL string)
	Load() error
	// Play requests playback start. An error means the start was blocked and is not fatal.
	Play() error
	// Stop halts playback and detaches the source.
	Stop() error
	Close() error
}

// decoderSlot owns at most one decoder.
type decoderSlot struct {
	current Decoder
	metrics *metrics.Metrics
}

// Replace releases the current occupant before installing next.
func (s *decoderSlot) Replace(next Decoder) {
	s.Release()
	s.current = next
	if next != nil {
		s.metrics.DecoderStarted()
	}
}

// Release destroys the current occupant, if any.
func (s *decoderSlot) Release() {
	if s.current == nil {
		return
	}
	s.current.Destroy()
	s.current = nil
	s.metrics.DecoderReleased()
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Decoders  DecoderFactory // nil disables the software decoder path
	Surface   Surface        // nil uses a HeadlessSurface
	ProxyBase string         // stream proxy, independent of the playlist proxy
	Status    StatusSink
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Controller owns the single playback session.
//
// playMu serializes Play and Close, and guards the decoder slot. mu guards the
// session state read by decoder events; it is never held while a decoder is
// destroyed so a decoder blocked in its handler can always finish.
type Controller struct {
	decoders  DecoderFactory
	surface   Surface
	proxyBase string
	status    StatusSink
	log       *slog.Logger
	metrics   *metrics.Metrics

	playMu sync.Mutex
	slot   decoderSlot

	mu      sync.Mutex
	session uint64
	info    PlaybackInfo
}

// NewController returns an idle Controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Surface == nil {
		cfg.Surface = NewHeadlessSurface()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Status == nil {
		cfg.Status = NewStatusBoard(cfg.Logger)
	}
	return &Controller{
		decoders:  cfg.Decoders,
		surface:   cfg.Surface,
		proxyBase: cfg.ProxyBase,
		status:    cfg.Status,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		slot:      decoderSlot{metrics: cfg.Metrics},
		info:      PlaybackInfo{State: StateIdle},
	}
}

// Play tears down the current session and starts streamURL. It prefers the
// software decoder, falls back to native surface playback, and otherwise fails
// with an unsupported status.
func (c *Controller) Play(streamURL, name string) {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	source := ProxyURL(c.proxyBase, streamURL)

	c.mu.Lock()
	c.session++
	session := c.session
	c.info = PlaybackInfo{State: StateStarting, Channel: name, StreamURL: streamURL, SourceURL: source}
	c.mu.Unlock()

	c.status.Report(infoStatus("Playing: " + name))

	c.slot.Release()
	if err := c.surface.Stop(); err != nil {
		c.log.Warn("stop previous playback failed", slog.String("error", err.Error()))
	}

	switch {
	case c.decoders != nil && c.decoders.Supported():
		d := c.decoders.New(func(ev Event) { c.handleEvent(session, ev) })
		c.slot.Replace(d)
		c.metrics.IncPlaybackSessions("decoder")
		c.log.Info("playback starting", slog.String("channel", name), slog.String("path", "decoder"))
		d.AttachMedia(c.surface)
		d.Load(source)

	case c.surface.CanPlayType(HLSMIMEType):
		c.metrics.IncPlaybackSessions("native")
		c.log.Info("playback starting", slog.String("channel", name), slog.String("path", "native"))
		c.surface.SetSource(source)
		if err := c.surface.Load(); err != nil {
			c.log.Warn("surface load failed", slog.String("error", err.Error()))
		}
		c.mu.Lock()
		if c.session == session {
			c.startSurfaceLocked()
			c.info.State = StatePlaying
			c.status.Report(successStatus("Now playing: " + name))
		}
		c.mu.Unlock()

	default:
		c.metrics.IncPlaybackSessions("unsupported")
		c.log.Warn("playback unsupported", slog.String("channel", name), slog.String("error", ErrUnsupportedPlayback.Error()))
		c.mu.Lock()
		c.info.State = StateFailed
		c.mu.Unlock()
		c.status.Report(errorStatus(msgUnsupported))
	}
}

// handleEvent applies a decoder event if it belongs to the current session.
func (c *Controller) handleEvent(session uint64, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if session != c.session {
		c.log.Debug("dropping event from replaced decoder", slog.Uint64("session", session))
		return
	}
	name := c.info.Channel

	switch ev.Kind {
	case EventManifestParsed:
		c.startSurfaceLocked()
		c.info.State = StatePlaying
		c.status.Report(successStatus("Now playing: " + name))
		c.log.Info("manifest parsed",
			slog.String("channel", name),
			slog.Int("variants", ev.Variants),
			slog.Bool("live", ev.Live))

	case EventError:
		if ev.Err == nil || !ev.Err.Fatal {
			if ev.Err != nil {
				c.log.Debug("non-fatal decoder error", slog.String("channel", name), slog.String("error", ev.Err.Error()))
			}
			return
		}
		c.info.State = StateFailed
		c.metrics.IncDecoderFatal()
		c.status.Report(errorStatus(decodeFailureMessage(name, ev.Err, c.proxyBase != "")))
		c.log.Error("fatal decoder error",
			slog.String("channel", name),
			slog.Int("upstream_status", ev.Err.UpstreamStatus),
			slog.String("error", ev.Err.Error()))
	}
}

// startSurfaceLocked requests playback; a blocked start is only logged.
func (c *Controller) startSurfaceLocked() {
	if err := c.surface.Play(); err != nil {
		c.log.Info("playback start blocked", slog.String("error", err.Error()))
	}
}

// decodeFailureMessage blames the proxy only when the stream went through one.
func decodeFailureMessage(name string, err *DecodeError, proxied bool) string {
	if proxied && err.UpstreamStatus == ProxyRejectStatus {
		return fmt.Sprintf("Playback error (%s): upstream proxy rejected the request (HTTP %d).", name, err.UpstreamStatus)
	}
	return fmt.Sprintf("Playback error (%s): could not load stream.", name)
}

// Info returns the current session.
func (c *Controller) Info() PlaybackInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Close releases the decoder and the surface and returns the controller to idle.
func (c *Controller) Close() error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.mu.Lock()
	c.session++
	c.info = PlaybackInfo{State: StateIdle}
	c.mu.Unlock()

	c.slot.Release()
	return c.surface.Close()
}
