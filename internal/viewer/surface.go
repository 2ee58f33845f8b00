package viewer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"iptv-viewer/internal/platform/logger"
)

// ErrNoSource is returned by Play when no source was set.
var ErrNoSource = errors.New("no source set")

var hlsMIMETypes = map[string]bool{
	HLSMIMEType:             true,
	"application/x-mpegurl": true,
	"audio/mpegurl":         true,
	"audio/x-mpegurl":       true,
}

func isHLSType(mimeType string) bool {
	mt, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), ";")
	return hlsMIMETypes[strings.TrimSpace(mt)]
}

// HeadlessSurface records the source without rendering anything. It reports
// no native HLS support, so only the software decoder path can use it.
type HeadlessSurface struct {
	mu     sync.Mutex
	source string
	plays  int
}

// NewHeadlessSurface returns an empty HeadlessSurface.
func NewHeadlessSurface() *HeadlessSurface {
	return &HeadlessSurface{}
}

func (s *HeadlessSurface) CanPlayType(string) bool { return false }

func (s *HeadlessSurface) SetSource(sourceURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = sourceURL
}

func (s *HeadlessSurface) Load() error { return nil }

func (s *HeadlessSurface) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == "" {
		return ErrNoSource
	}
	s.plays++
	return nil
}

func (s *HeadlessSurface) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = ""
	return nil
}

func (s *HeadlessSurface) Close() error { return nil }

// Source returns the last source set.
func (s *HeadlessSurface) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// ExecSurface plays through an external player process such as mpv or ffplay.
// The stream URL is appended as the last argument.
type ExecSurface struct {
	command  string
	args     []string
	log      *slog.Logger
	lookPath func(string) (string, error)

	mu     sync.Mutex
	source string
	proc   *exec.Cmd
	exited chan struct{}
}

// NewExecSurface parses a command line like "mpv --really-quiet".
func NewExecSurface(commandLine string, log *slog.Logger) *ExecSurface {
	fields := strings.Fields(commandLine)
	s := &ExecSurface{log: log, lookPath: exec.LookPath}
	if log == nil {
		s.log = logger.Discard()
	}
	if len(fields) > 0 {
		s.command = fields[0]
		s.args = fields[1:]
	}
	return s
}

// CanPlayType is true for HLS media types when the player binary resolves.
func (s *ExecSurface) CanPlayType(mimeType string) bool {
	if s.command == "" || !isHLSType(mimeType) {
		return false
	}
	_, err := s.lookPath(s.command)
	return err == nil
}

func (s *ExecSurface) SetSource(sourceURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = sourceURL
}

// Load stops the running player, if any, so the next Play uses the new source.
func (s *ExecSurface) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Play starts the player for the current source. It is a no-op while a
// player is already running.
func (s *ExecSurface) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == "" {
		return ErrNoSource
	}
	if s.proc != nil {
		return nil
	}
	path, err := s.lookPath(s.command)
	if err != nil {
		return fmt.Errorf("resolve player %q: %w", s.command, err)
	}

	args := append(append([]string(nil), s.args...), s.source)
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}

	exited := make(chan struct{})
	s.proc, s.exited = cmd, exited
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		if s.proc == cmd {
			s.proc, s.exited = nil, nil
		}
		s.mu.Unlock()
		close(exited)
		if err != nil {
			s.log.Debug("player exited", slog.String("error", err.Error()))
		}
	}()
	s.log.Info("player started", slog.String("command", s.command), slog.Int("pid", cmd.Process.Pid))
	return nil
}

// Stop kills the running player and forgets the source.
func (s *ExecSurface) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = ""
	return s.stopLocked()
}

// Close stops the running player.
func (s *ExecSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Running reports whether a player process is alive.
func (s *ExecSurface) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// stopLocked kills the player and waits for the reaper. The reaper takes
// s.mu, so the lock is dropped while waiting.
func (s *ExecSurface) stopLocked() error {
	if s.proc == nil {
		return nil
	}
	cmd, exited := s.proc, s.exited
	s.proc, s.exited = nil, nil

	err := cmd.Process.Kill()
	s.mu.Unlock()
	<-exited
	s.mu.Lock()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop player: %w", err)
	}
	return nil
}
