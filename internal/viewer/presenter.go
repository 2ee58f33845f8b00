package viewer

import (
	"errors"
	"sync"
)

// NoChannelsPlaceholder is shown in place of the list when a playlist had no channels.
const NoChannelsPlaceholder = "No channels found."

// ErrNoSuchChannel is returned when activating an index outside the rendered list.
var ErrNoSuchChannel = errors.New("no such channel")

// Player starts playback of a stream. *Controller implements it.
type Player interface {
	Play(streamURL, name string)
}

// ChannelList is the rendered, selectable channel list. At most one entry is
// active at any time.
type ChannelList struct {
	mu       sync.Mutex
	player   Player
	channels []Channel
	rendered bool
	active   int // -1 when nothing is active
}

// NewChannelList returns an empty list whose entries drive player when activated.
func NewChannelList(player Player) *ChannelList {
	return &ChannelList{player: player, active: -1}
}

// Render replaces whatever was rendered before. No entry is active afterwards.
func (l *ChannelList) Render(channels []Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.channels = append([]Channel(nil), channels...)
	l.rendered = true
	l.active = -1
}

// Activate plays the channel at index and marks it as the sole active entry.
func (l *ChannelList) Activate(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.channels) {
		return ErrNoSuchChannel
	}
	ch := l.channels[index]
	l.player.Play(ch.URL, ch.Name)
	l.active = index
	return nil
}

// Len returns the number of rendered entries.
func (l *ChannelList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.channels)
}

// View returns a snapshot of the rendered entries.
func (l *ChannelList) View() ListView {
	l.mu.Lock()
	defer l.mu.Unlock()

	view := ListView{Entries: make([]Entry, 0, len(l.channels))}
	if l.rendered && len(l.channels) == 0 {
		view.Placeholder = NoChannelsPlaceholder
		return view
	}
	for i, ch := range l.channels {
		view.Entries = append(view.Entries, Entry{Index: i, Channel: ch, Active: i == l.active})
	}
	return view
}
