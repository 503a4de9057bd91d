package state

import (
	"sort"
	"strings"
	"sync"

	"github.com/horgh/relayd/internal/ident"
)

// Registry is a map shared between connections. The lock is held only while
// the map is touched, never during I/O.
type Registry[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]V
}

// NewRegistry creates an empty Registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: map[K]V{}}
}

// Insert sets key to value, replacing anything already there.
func (r *Registry[K, V]) Insert(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = value
}

// Remove deletes key. It reports whether key was present.
func (r *Registry[K, V]) Remove(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.items[key]
	if exists {
		delete(r.items, key)
	}
	return exists
}

// RemoveIf deletes key only if match accepts the stored value.
func (r *Registry[K, V]) RemoveIf(key K, match func(V) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, exists := r.items[key]
	if !exists || !match(v) {
		return false
	}
	delete(r.items, key)
	return true
}

// Get returns the value at key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, exists := r.items[key]
	return v, exists
}

// Contains reports whether key is present.
func (r *Registry[K, V]) Contains(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.items[key]
	return exists
}

// Snapshot copies out every value. Order is unspecified.
func (r *Registry[K, V]) Snapshot() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := make([]V, 0, len(r.items))
	for _, v := range r.items {
		values = append(values, v)
	}
	return values
}

// Len is the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// SortUsers puts users in RegisteredUser.Less order.
func SortUsers(users []RegisteredUser) {
	sort.Slice(users, func(i, j int) bool { return users[i].Less(users[j]) })
}

// Registries are the process wide indexes. One instance is created at startup
// and handed to every session.
type Registries struct {
	// Local users keyed by username.
	Local *Registry[string, RegisteredUser]

	// Users introduced by linked servers. We never remove them.
	Foreign *Registry[ident.UserID, RegisteredUser]

	Channels *ChannelRegistry
}

// NewRegistries creates empty registries.
func NewRegistries() *Registries {
	return &Registries{
		Local:    NewRegistry[string, RegisteredUser](),
		Foreign:  NewRegistry[ident.UserID, RegisteredUser](),
		Channels: NewChannelRegistry(),
	}
}

// FindLocalByUsername looks up a local user ignoring case.
func (r *Registries) FindLocalByUsername(username string) (RegisteredUser, bool) {
	if u, exists := r.Local.Get(username); exists {
		return u, true
	}
	for _, u := range r.Local.Snapshot() {
		if strings.EqualFold(u.Username, username) {
			return u, true
		}
	}
	return RegisteredUser{}, false
}

// FindForeignByUsername looks up a user from a linked server ignoring case.
func (r *Registries) FindForeignByUsername(
	username string,
) (RegisteredUser, bool) {
	for _, u := range r.Foreign.Snapshot() {
		if strings.EqualFold(u.Username, username) {
			return u, true
		}
	}
	return RegisteredUser{}, false
}
