package viewer

import (
	"log/slog"
	"sync"
)

// StatusSink receives status updates from each component.
type StatusSink interface {
	Report(Status)
}

type discardStatus struct{}

func (discardStatus) Report(Status) {}

// StatusBoard holds the most recent Status. Every report overwrites the previous one.
type StatusBoard struct {
	mu      sync.RWMutex
	current Status
	log     *slog.Logger
}

// NewStatusBoard returns a board that starts with an empty info status.
func NewStatusBoard(log *slog.Logger) *StatusBoard {
	return &StatusBoard{current: Status{Severity: SeverityInfo}, log: log}
}

// Report implements StatusSink.
func (b *StatusBoard) Report(s Status) {
	b.mu.Lock()
	b.current = s
	b.mu.Unlock()

	if b.log == nil {
		return
	}
	if s.Severity == SeverityError {
		b.log.Warn("status", slog.String("severity", string(s.Severity)), slog.String("message", s.Message))
		return
	}
	b.log.Debug("status", slog.String("severity", string(s.Severity)), slog.String("message", s.Message))
}

// Current returns the last reported status.
func (b *StatusBoard) Current() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

func infoStatus(msg string) Status    { return Status{Message: msg, Severity: SeverityInfo} }
func errorStatus(msg string) Status   { return Status{Message: msg, Severity: SeverityError} }
func successStatus(msg string) Status { return Status{Message: msg, Severity: SeveritySuccess} }
