package viewer

// Channel is a single playable entry parsed from an extended M3U playlist.
// Channels are immutable once parsed and replaced wholesale on the next load.
type Channel struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Logo string `json:"logo"`
}

// Severity classifies a Status for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Status is the transient user-facing message. Only the latest one is kept.
type Status struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// PlaybackState is the state of the current playback session.
type PlaybackState string

const (
	StateIdle     PlaybackState = "idle"
	StateStarting PlaybackState = "starting"
	StatePlaying  PlaybackState = "playing"
	StateFailed   PlaybackState = "failed"
)

// PlaybackInfo describes the current playback session.
type PlaybackInfo struct {
	State     PlaybackState `json:"state"`
	Channel   string        `json:"channel,omitempty"`
	StreamURL string        `json:"stream_url,omitempty"`
	SourceURL string        `json:"source_url,omitempty"` // StreamURL after proxy rewrite
}

// Entry is one rendered row of the channel list.
type Entry struct {
	Index int `json:"index"`
	Channel
	Active bool `json:"active"`
}

// ListView is a snapshot of the rendered channel list. Placeholder is set
// instead of Entries when the last rendered playlist was empty.
type ListView struct {
	Entries     []Entry `json:"entries"`
	Placeholder string  `json:"placeholder,omitempty"`
}

// Snapshot is the full viewer state handed to the UI.
type Snapshot struct {
	PlaylistURL string       `json:"playlist_url,omitempty"`
	Channels    ListView     `json:"channels"`
	Status      Status       `json:"status"`
	Playback    PlaybackInfo `json:"playback"`
}
