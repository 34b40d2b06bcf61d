// Package cache implements the bounded per-domain RR cache (C1): an LRU
// keyed by queried domain, holding an append-only record list per key with
// absolute-expiry TTL pruning on every access.
package cache

import (
	"expvar"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Record pairs a cached resource record with its absolute expiry time. The
// TTL reported to clients is the record's original (stored) TTL, unchanged;
// only the prune predicate uses the absolute expiry.
type Record struct {
	RR     dns.RR
	Expiry time.Time
}

type entry struct {
	domain  string
	records []Record
	prev    *entry
	next    *entry
}

// Cache is a fixed-capacity LRU from domain (FQDN, lowercase) to its record
// list. A single mutex protects the whole structure; critical sections are
// O(1) amortized and non-blocking.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*entry
	head     *entry // most-recently-used sentinel-adjacent
	tail     *entry
	now      func() time.Time

	hits   *expvar.Int
	misses *expvar.Int
}

// New returns a Cache with the given capacity. A capacity of 0 disables the
// cache: Enabled reports false and all operations are no-ops.
func New(id string, capacity int) *Cache {
	head := new(entry)
	tail := new(entry)
	head.next = tail
	tail.prev = head
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*entry),
		head:     head,
		tail:     tail,
		now:      time.Now,
		hits:     getVarInt(id, "hits"),
		misses:   getVarInt(id, "misses"),
	}
}

// Enabled reports whether the cache accepts entries (capacity > 0).
func (c *Cache) Enabled() bool {
	return c.capacity > 0
}

// Put appends new records for domain. If the key already exists, expired
// records are pruned from its list first, then the new ones are appended;
// otherwise a fresh list is inserted. Touches LRU recency.
func (c *Cache) Put(domain string, rrs []dns.RR) {
	if !c.Enabled() || len(rrs) == 0 {
		return
	}
	domain = strings.ToLower(domain)
	now := c.now()

	var newRecords []Record
	for _, rr := range rrs {
		newRecords = append(newRecords, Record{
			RR:     rr,
			Expiry: now.Add(time.Duration(rr.Header().Ttl) * time.Second),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.touch(domain)
	if e == nil {
		e = &entry{domain: domain, records: newRecords}
		c.pushFront(e)
		c.items[domain] = e
		c.evictIfNeeded()
		return
	}
	e.records = prune(e.records, now)
	e.records = append(e.records, newRecords...)
}

// Get prunes expired records for domain, then returns a copy of those
// matching qtype. If the list becomes empty after pruning, the key is
// removed and (nil, false) is returned. Touches LRU recency even on a
// type-filter miss, since the key is still "hot".
func (c *Cache) Get(domain string, qtype uint16) ([]dns.RR, bool) {
	if !c.Enabled() {
		return nil, false
	}
	domain = strings.ToLower(domain)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.touch(domain)
	if e == nil {
		c.misses.Add(1)
		return nil, false
	}
	e.records = prune(e.records, now)
	if len(e.records) == 0 {
		c.remove(e)
		delete(c.items, domain)
		c.misses.Add(1)
		return nil, false
	}

	var out []dns.RR
	for _, r := range e.records {
		if r.RR.Header().Rrtype == qtype {
			out = append(out, dns.Copy(r.RR))
		}
	}
	if len(out) == 0 {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return out, true
}

// Len returns the current number of cached domain keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func prune(records []Record, now time.Time) []Record {
	out := records[:0]
	for _, r := range records {
		if r.Expiry.After(now) {
			out = append(out, r)
		}
	}
	return out
}

// touch loads an item and moves it to the front (most-recent) of the LRU
// list, or returns nil if the key isn't present.
func (c *Cache) touch(domain string) *entry {
	e, ok := c.items[domain]
	if !ok {
		return nil
	}
	c.remove(e)
	c.pushFront(e)
	return e
}

func (c *Cache) pushFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
}

// evictIfNeeded drops the least-recently-used key if the cache is over
// capacity after an insert.
func (c *Cache) evictIfNeeded() {
	if c.capacity <= 0 {
		return
	}
	for len(c.items) > c.capacity {
		lru := c.tail.prev
		if lru == c.head {
			return
		}
		c.remove(lru)
		delete(c.items, lru.domain)
	}
}

func getVarInt(id, name string) *expvar.Int {
	fullname := "pomelo.cache." + id + "." + name
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}
