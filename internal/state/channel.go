package state

import (
	"sort"
	"strings"
	"sync"

	"github.com/horgh/relayd/internal/ident"
)

// Channel is a copy of a channel's state at some moment.
type Channel struct {
	// Name as given by whoever created the channel.
	Name string

	// Members in RegisteredUser.Less order.
	Members []RegisteredUser
}

// HasMember reports whether the user with the UID is in the snapshot.
func (c Channel) HasMember(id ident.UserID) bool {
	for _, m := range c.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Nicks lists the members' nicknames.
func (c Channel) Nicks() []string {
	nicks := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		nicks = append(nicks, m.Nickname)
	}
	return nicks
}

type channel struct {
	name    string
	members map[ident.UserID]RegisteredUser
}

func (c *channel) snapshot() Channel {
	members := make([]RegisteredUser, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	SortUsers(members)
	return Channel{Name: c.name, Members: members}
}

// ChannelRegistry holds every channel. Channels are created on first join and
// live until the process exits. Membership only grows.
type ChannelRegistry struct {
	mu sync.Mutex

	// Canonicalized name to channel.
	channels map[string]*channel
}

// NewChannelRegistry creates an empty ChannelRegistry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: map[string]*channel{}}
}

// CanonicalizeChannel converts the given channel to its canonical
// representation (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func CanonicalizeChannel(c string) string {
	return strings.ToLower(c)
}

// Join adds the user to the channel, creating the channel if needed. It
// returns a snapshot taken after the join and whether the channel was created.
//
// Joining a channel you are already in changes nothing.
func (r *ChannelRegistry) Join(name string, u RegisteredUser) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := CanonicalizeChannel(name)
	c, exists := r.channels[key]
	if !exists {
		c = &channel{name: name, members: map[ident.UserID]RegisteredUser{}}
		r.channels[key] = c
	}

	if _, member := c.members[u.ID]; !member {
		c.members[u.ID] = u
	}

	return c.snapshot(), !exists
}

// IsMember reports whether the user is in the channel.
func (r *ChannelRegistry) IsMember(name string, id ident.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.channels[CanonicalizeChannel(name)]
	if !exists {
		return false
	}
	_, member := c.members[id]
	return member
}

// Get returns a snapshot of the channel.
func (r *ChannelRegistry) Get(name string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.channels[CanonicalizeChannel(name)]
	if !exists {
		return Channel{}, false
	}
	return c.snapshot(), true
}

// Snapshot copies out every channel ordered by name.
func (r *ChannelRegistry) Snapshot() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]Channel, 0, len(r.channels))
	for _, c := range r.channels {
		channels = append(channels, c.snapshot())
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Name < channels[j].Name
	})
	return channels
}

// Len is the number of channels.
func (r *ChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
