// Package cache implements the translation cache: a direct-mapped
// table keyed by guest instruction pointer, mapping each to the host
// address of its already-translated block.
package cache

import "sync"

// goldenRatio64 is the Fibonacci-hashing multiplier; multiplying by it
// and keeping the high half spreads sequential addresses evenly across
// the table regardless of table size.
const goldenRatio64 = 0x9E3779B97F4A7C15

// HashIP is the canonical guest-IP hash: the upper 32 bits of the
// golden-ratio product. The table index is the low indexBits of it.
func HashIP(ip uint64) uint32 {
	return uint32((ip * goldenRatio64) >> 32)
}

// Entry is one cache slot. A zero Valid means the slot is empty.
type Entry struct {
	GuestIP  uint64
	HostAddr uintptr
	Size     int    // host bytes occupied by the translation
	Hash     uint32 // precomputed HashIP(GuestIP)
	Hits     uint64
	Valid    bool
	Linked   bool // the block's trailing RET has been patched to a direct branch

	// Chain records the successor host entry points the linker may patch
	// in: slot 0 the fall-through edge, slot 1 the taken edge.
	Chain [2]uintptr
}

// Cache is a fixed-size, direct-mapped (not chained) table: one guest IP
// maps to exactly one slot, and a colliding insert silently evicts
// whatever was there; eviction is by overwrite, with no chaining or
// probing. A single table-wide mutex keeps the
// (GuestIP, HostAddr, Valid) triple from ever being observed torn when
// guest threads share the cache.
type Cache struct {
	mu           sync.Mutex
	slots        []Entry
	mask         uint32
	hotThreshold uint64

	lookups uint64
	hits    uint64
	misses  uint64
	flushes uint64
}

// New allocates a cache with 2^indexBits slots.
func New(indexBits uint, hotThreshold uint64) *Cache {
	return &Cache{
		slots:        make([]Entry, 1<<indexBits),
		mask:         uint32(1<<indexBits) - 1,
		hotThreshold: hotThreshold,
	}
}

func (c *Cache) index(ip uint64) uint32 {
	return HashIP(ip) & c.mask
}

// Lookup returns the host address for ip if the slot currently holds it,
// bumping its hit counter; otherwise ok is false. A miss is an ordinary
// signal, not an error.
func (c *Cache) Lookup(ip uint64) (hostAddr uintptr, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	e := &c.slots[c.index(ip)]
	if e.Valid && e.GuestIP == ip {
		e.Hits++
		c.hits++
		return e.HostAddr, true
	}
	c.misses++
	return 0, false
}

// Insert installs (ip -> hostAddr, size bytes), overwriting whatever
// previously occupied that slot. The evicted entry's arena storage stays
// resident until the next flush; only its index disappears.
func (c *Cache) Insert(ip uint64, hostAddr uintptr, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[c.index(ip)] = Entry{
		GuestIP:  ip,
		HostAddr: hostAddr,
		Size:     size,
		Hash:     HashIP(ip),
		Hits:     1,
		Valid:    true,
	}
}

// Invalidate clears the slot for ip if it currently holds ip, a no-op
// otherwise.
func (c *Cache) Invalidate(ip uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &c.slots[c.index(ip)]
	if e.Valid && e.GuestIP == ip {
		*e = Entry{}
	}
}

// Flush empties every slot and bumps the flush counter, used when the
// arena is reset and every previously-cached host address becomes
// invalid.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i] = Entry{}
	}
	c.lookups, c.hits, c.misses = 0, 0, 0
	c.flushes++
}

// Chain records toIP's host entry point in fromIP's on-block chain table
// at slot (0 = fall-through edge, 1 = taken edge), for the linker to
// patch in later. It fails when either block is
// no longer cached or slot is out of range.
func (c *Cache) Chain(fromIP, toIP uint64, slot int) bool {
	if slot < 0 || slot > 1 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	from := &c.slots[c.index(fromIP)]
	to := &c.slots[c.index(toIP)]
	if !from.Valid || from.GuestIP != fromIP || !to.Valid || to.GuestIP != toIP {
		return false
	}
	from.Chain[slot] = to.HostAddr
	return true
}

// ClearChains drops ip's recorded chain pointers and linked flag,
// the cache half of an unlink.
func (c *Cache) ClearChains(ip uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &c.slots[c.index(ip)]
	if e.Valid && e.GuestIP == ip {
		e.Chain = [2]uintptr{}
		e.Linked = false
	}
}

// SetLinked marks ip's entry as having had its trampoline patched.
func (c *Cache) SetLinked(ip uint64, linked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &c.slots[c.index(ip)]
	if e.Valid && e.GuestIP == ip {
		e.Linked = linked
	}
}

// EntryAt returns a copy of ip's entry, ok=false when the slot holds
// something else. Callers get a snapshot, never a pointer into the table.
func (c *Cache) EntryAt(ip uint64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.slots[c.index(ip)]
	if e.Valid && e.GuestIP == ip {
		return e, true
	}
	return Entry{}, false
}

// IsHot reports whether ip's slot (if it still holds ip) has crossed the
// hot-path execution threshold. Engine.Link does not consult it.
func (c *Cache) IsHot(ip uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &c.slots[c.index(ip)]
	return e.Valid && e.GuestIP == ip && e.Hits >= c.hotThreshold
}

// Stats returns (lookups, hits, misses) for diagnostics.
func (c *Cache) Stats() (lookups, hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups, c.hits, c.misses
}

// FlushCount returns how many times the table has been flushed.
func (c *Cache) FlushCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// Occupancy returns the fraction of slots currently holding a valid
// entry, reported by the debugger's "info cache" command and the API's
// cache endpoint.
func (c *Cache) Occupancy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	used := 0
	for i := range c.slots {
		if c.slots[i].Valid {
			used++
		}
	}
	return float64(used) / float64(len(c.slots))
}

// Len returns the number of slots in the table.
func (c *Cache) Len() int { return len(c.slots) }
