package ping

import (
	"net"
	"sync"
)

// cacheCapacity is the fixed LRU size for memoized ping verdicts, shared
// process-wide.
const cacheCapacity = 455

type cacheItem struct {
	key        string
	ok         bool
	prev, next *cacheItem
}

// Cache is a process-wide LRU of IP -> pingable verdict. No explicit TTL is
// applied; a host that goes offline after being memoized keeps its stale
// verdict until evicted by LRU pressure. Eviction is LRU-only.
type Cache struct {
	mu    sync.Mutex
	items map[string]*cacheItem
	head  *cacheItem
	tail  *cacheItem
}

// NewCache returns an empty ping verdict cache with a fixed capacity of
// 455 entries.
func NewCache() *Cache {
	head := new(cacheItem)
	tail := new(cacheItem)
	head.next = tail
	tail.prev = head
	return &Cache{
		items: make(map[string]*cacheItem),
		head:  head,
		tail:  tail,
	}
}

// Get returns the memoized verdict for ip, if present.
func (c *Cache) Get(ip net.IP) (ok bool, found bool) {
	key := ip.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	item, found := c.items[key]
	if !found {
		return false, false
	}
	c.moveToFront(item)
	return item.ok, true
}

// Set memoizes the verdict for ip, evicting the least-recently-used entry
// if the cache is now over capacity.
func (c *Cache) Set(ip net.IP, ok bool) {
	key := ip.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found {
		item.ok = ok
		c.moveToFront(item)
		return
	}
	item := &cacheItem{key: key, ok: ok}
	c.pushFront(item)
	c.items[key] = item

	for len(c.items) > cacheCapacity {
		lru := c.tail.prev
		if lru == c.head {
			break
		}
		c.unlink(lru)
		delete(c.items, lru.key)
	}
}

func (c *Cache) moveToFront(item *cacheItem) {
	c.unlink(item)
	c.pushFront(item)
}

func (c *Cache) pushFront(item *cacheItem) {
	item.prev = c.head
	item.next = c.head.next
	c.head.next.prev = item
	c.head.next = item
}

func (c *Cache) unlink(item *cacheItem) {
	item.prev.next = item.next
	item.next.prev = item.prev
}
