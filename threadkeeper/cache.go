package threadkeeper

import (
	"sync"
	"time"
)

// TTLStore is a minimal expiring key store. The bot's short-lived state
// (self-archive markers, command cooldowns) lives behind this interface
// so it can be constructed once per process and injected, rather than
// hiding module-level maps inside the components that use them.
type TTLStore interface {
	// Get returns the value for key, if present and not expired
	Get(key string) (string, bool)

	// Set stores value under key. A zero ttl uses the store's default.
	Set(key string, value string, ttl time.Duration)

	// Delete removes the key, if present
	Delete(key string)

	// Has reports whether the key is present and not expired
	Has(key string) bool
}

type ttlEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryTTLStore is the in-process TTLStore implementation. Expired
// entries are dropped lazily on access.
type MemoryTTLStore struct {
	mu         sync.Mutex
	entries    map[string]ttlEntry
	defaultTTL time.Duration

	// now is swappable for tests
	now func() time.Time
}

func NewMemoryTTLStore(defaultTTL time.Duration) *MemoryTTLStore {
	return &MemoryTTLStore{
		entries:    map[string]ttlEntry{},
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (s *MemoryTTLStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", false
	}
	return entry.value, true
}

func (s *MemoryTTLStore) Set(key string, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = ttlEntry{value: value, expiresAt: s.now().Add(ttl)}
}

func (s *MemoryTTLStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryTTLStore) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// CommandCooldown throttles per-user use of the submission commands so
// a single user can't flood the intake channels.
type CommandCooldown struct {
	store TTLStore
	ttl   time.Duration
}

func NewCommandCooldown(store TTLStore, ttl time.Duration) *CommandCooldown {
	return &CommandCooldown{store: store, ttl: ttl}
}

// Start begins the user's cooldown for command, reporting false when
// the previous one hasn't elapsed yet.
func (c *CommandCooldown) Start(command string, userID string) bool {
	if c == nil || c.ttl <= 0 {
		return true
	}
	key := "cooldown:" + command + ":" + userID
	if c.store.Has(key) {
		return false
	}
	c.store.Set(key, "1", c.ttl)
	return true
}

// ArchiveGuard de-duplicates archive processing. Discord fires a thread
// update for every archive regardless of origin, so when the bot
// archives a thread itself it drops a short-lived marker here; the
// thread-update handler consumes the marker to tell the echo of the
// bot's own action apart from a genuine external archive.
//
// The marker only needs to survive the echo's race window. It is a
// best-effort suppression, not a correctness guarantee: the archive
// handler still re-checks ClosedAt before mutating anything.
type ArchiveGuard struct {
	store TTLStore
	ttl   time.Duration
}

func NewArchiveGuard(store TTLStore, ttl time.Duration) *ArchiveGuard {
	return &ArchiveGuard{store: store, ttl: ttl}
}

func (g *ArchiveGuard) markerKey(postID string) string {
	return "self-archive:" + postID
}

// MarkSelfArchived records that the bot itself just archived the post
func (g *ArchiveGuard) MarkSelfArchived(postID string) {
	g.store.Set(g.markerKey(postID), "1", g.ttl)
}

// WasSelfArchived consumes the marker for the post, reporting whether
// one was present.
func (g *ArchiveGuard) WasSelfArchived(postID string) bool {
	key := g.markerKey(postID)
	if !g.store.Has(key) {
		return false
	}
	g.store.Delete(key)
	return true
}
