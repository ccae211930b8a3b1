package permission

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/uncord-chat/uncord-server/internal/capability"
)

// MaxCacheEntries bounds the resolver's in-process memoization cache. At this size the cache holds roughly
// one entry per (user, scope) pair actively in view across the process's connections; eviction is plain
// LRU once full.
const MaxCacheEntries = 100_000

type scopeKind uint8

const (
	scopeRoom scopeKind = iota
	scopeThread
)

type cacheKey struct {
	kind   scopeKind
	scope  uuid.UUID
	userID uuid.UUID
}

type mutualKey struct {
	a uuid.UUID
	b uuid.UUID
}

// normalizeMutual orders a pair so (x,y) and (y,x) hash to the same key.
func normalizeMutual(a, b uuid.UUID) mutualKey {
	if a.String() > b.String() {
		a, b = b, a
	}
	return mutualKey{a: a, b: b}
}

// cache memoizes resolved capability sets and mutual-room verdicts, bounded by an LRU eviction policy. It
// additionally keeps a reverse index from room/thread/user id to the cache keys that depend on it, since
// golang-lru has no native predicate-based eviction and invalidation here is always "every entry touching
// scope X", not "evict key K".
type cache struct {
	mu sync.Mutex

	perms   *lru.Cache[cacheKey, capability.Set]
	mutuals *lru.Cache[mutualKey, bool]

	// byScope indexes perms keys by the room or thread id they were computed for.
	byScope map[uuid.UUID]map[cacheKey]struct{}
	// byUser indexes mutuals keys by either participant, for InvalidateMutual's user-id argument.
	byUser map[uuid.UUID]map[mutualKey]struct{}
}

func newCache() *cache {
	perms, err := lru.New[cacheKey, capability.Set](MaxCacheEntries)
	if err != nil {
		panic(err)
	}
	mutuals, err := lru.New[mutualKey, bool](MaxCacheEntries)
	if err != nil {
		panic(err)
	}
	return &cache{
		perms:   perms,
		mutuals: mutuals,
		byScope: make(map[uuid.UUID]map[cacheKey]struct{}),
		byUser:  make(map[uuid.UUID]map[mutualKey]struct{}),
	}
}

func (c *cache) getRoom(userID, roomID uuid.UUID) (capability.Set, bool) {
	return c.get(cacheKey{kind: scopeRoom, scope: roomID, userID: userID})
}

func (c *cache) setRoom(userID, roomID uuid.UUID, set capability.Set) {
	c.set(cacheKey{kind: scopeRoom, scope: roomID, userID: userID}, set)
}

func (c *cache) getThread(userID, threadID uuid.UUID) (capability.Set, bool) {
	return c.get(cacheKey{kind: scopeThread, scope: threadID, userID: userID})
}

// setThread caches a thread-scope verdict, indexed under both the thread and its owning room: a room-level
// role change invalidates every thread built on top of it even though the role union itself isn't cached
// separately.
func (c *cache) setThread(userID, threadID, roomID uuid.UUID, set capability.Set) {
	c.set(cacheKey{kind: scopeThread, scope: threadID, userID: userID}, set, roomID)
}

func (c *cache) get(key cacheKey) (capability.Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perms.Get(key)
}

// set caches the entry under key.scope plus any extra scope ids it should also be evicted alongside.
func (c *cache) set(key cacheKey, set capability.Set, extraScopes ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perms.Add(key, set)
	for _, scope := range append([]uuid.UUID{key.scope}, extraScopes...) {
		if c.byScope[scope] == nil {
			c.byScope[scope] = make(map[cacheKey]struct{})
		}
		c.byScope[scope][key] = struct{}{}
	}
}

// invalidateScope evicts every cached entry recorded against the given room or thread id.
func (c *cache) invalidateScope(scope uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.byScope[scope]
	for key := range keys {
		c.perms.Remove(key)
	}
	delete(c.byScope, scope)
}

func (c *cache) getMutual(a, b uuid.UUID) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutuals.Get(normalizeMutual(a, b))
}

func (c *cache) setMutual(a, b uuid.UUID, mutual bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalizeMutual(a, b)
	c.mutuals.Add(key, mutual)
	for _, u := range [2]uuid.UUID{key.a, key.b} {
		if c.byUser[u] == nil {
			c.byUser[u] = make(map[mutualKey]struct{})
		}
		c.byUser[u][key] = struct{}{}
	}
}

// invalidateMutualUser evicts every cached mutual-room verdict involving the given user.
func (c *cache) invalidateMutualUser(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.byUser[userID]
	for key := range keys {
		c.mutuals.Remove(key)
		other := key.a
		if other == userID {
			other = key.b
		}
		delete(c.byUser[other], key)
	}
	delete(c.byUser, userID)
}
