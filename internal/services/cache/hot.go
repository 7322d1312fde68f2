package cache

import (
	"container/list"
	"sync"

	"github.com/ternarybob/harvester/internal/models"
)

// hotCache keeps recently touched entries decompressed behind a bounded
// LRU so repeat lookups skip the inflate step.
type hotCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	items    map[models.Fingerprint]*list.Element
}

type hotItem struct {
	fp    models.Fingerprint
	entry *models.CacheEntry
}

func newHotCache(capacity int) *hotCache {
	return &hotCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[models.Fingerprint]*list.Element),
	}
}

func (h *hotCache) get(fp models.Fingerprint) (*models.CacheEntry, bool) {
	if h.capacity <= 0 {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	el, ok := h.items[fp]
	if !ok {
		return nil, false
	}
	h.order.MoveToFront(el)
	return el.Value.(*hotItem).entry, true
}

func (h *hotCache) put(entry *models.CacheEntry) {
	if h.capacity <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	fp := entry.Fingerprint()
	if el, ok := h.items[fp]; ok {
		el.Value.(*hotItem).entry = entry
		h.order.MoveToFront(el)
		return
	}
	h.items[fp] = h.order.PushFront(&hotItem{fp: fp, entry: entry})
	if h.order.Len() > h.capacity {
		oldest := h.order.Back()
		h.order.Remove(oldest)
		delete(h.items, oldest.Value.(*hotItem).fp)
	}
}

func (h *hotCache) remove(fp models.Fingerprint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if el, ok := h.items[fp]; ok {
		h.order.Remove(el)
		delete(h.items, fp)
	}
}

func (h *hotCache) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order.Len()
}
