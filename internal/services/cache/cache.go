package cache

import (
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// ErrNotFound marks a fingerprint with no cache entry.
var ErrNotFound = errors.New("cache entry not found")

const (
	primaryFileName = "primary.blob"
	indexFileName   = "index.bin"

	// compactFloor keeps small caches from rewriting on every update.
	compactFloor = 1 << 20
)

// TokenCount is one row of a frequency report.
type TokenCount struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// Query selects cache entries by index intersection plus a time window.
// Within one field the values are OR'ed; across fields AND'ed. Zero
// times disable the window bounds.
type Query struct {
	Companies    []string
	Technologies []string
	Locations    []string
	Since        time.Time
	Until        time.Time
}

// Cache is the content-addressed store of job records. The primary blob
// holds length-prefixed zlib frames, one per entry; updates append a new
// frame and the stale one is reclaimed on compaction. All mutation goes
// through a single write lock so readers never observe a half-applied
// batch.
type Cache struct {
	dir     string
	level   int
	maxAge  time.Duration
	maxSize int64
	logger  arbor.ILogger

	mu        sync.RWMutex
	frames    map[models.Fingerprint][]byte
	liveBytes int64
	fileBytes int64
	index     *invertedIndex
	hot       *hotCache
	blob      *os.File
}

// New opens or creates the cache under cfg.Dir, verifying the index
// against the primary and rebuilding it when the checksum disagrees.
func New(cfg common.CacheConfig, logger arbor.ILogger) (*Cache, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.Dir, err)
	}

	c := &Cache{
		dir:     cfg.Dir,
		level:   cfg.CompressionLevel,
		maxAge:  time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		maxSize: int64(cfg.MaxSizeMB) << 20,
		logger:  logger,
		frames:  make(map[models.Fingerprint][]byte),
		hot:     newHotCache(cfg.HotEntries),
	}

	if err := c.loadPrimary(); err != nil {
		return nil, err
	}
	if err := c.loadOrRebuildIndex(); err != nil {
		return nil, err
	}

	blob, err := os.OpenFile(c.primaryPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache primary for append: %w", err)
	}
	c.blob = blob

	logger.Info().
		Int("entries", len(c.frames)).
		Int64("live_bytes", c.liveBytes).
		Msg("Cache opened")
	return c, nil
}

// Put inserts or replaces the entry for its fingerprint, keeping the
// indexes in step within the same critical section.
func (c *Cache) Put(entry *models.CacheEntry) error {
	frame, err := c.compress(entry)
	if err != nil {
		return err
	}
	fp := entry.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.frames[fp]; ok {
		if prev, err := c.inflate(fp, old); err == nil {
			c.index.remove(prev)
		}
		c.liveBytes -= frameSize(old)
	}

	if err := c.appendFrame(frame); err != nil {
		return err
	}
	c.frames[fp] = frame
	c.liveBytes += frameSize(frame)
	c.index.add(entry)
	// The hot cache keeps its own copy so the caller's entry can never
	// alias what later Gets hand out.
	hotEntry := *entry
	c.hot.put(&hotEntry)

	if c.fileBytes > compactFloor && c.fileBytes > 2*c.liveBytes {
		if err := c.rewritePrimary(); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the entry for a fingerprint or ErrNotFound. The returned
// entry is a snapshot copy; mutating it does not touch the cache until
// the caller writes it back with Put.
func (c *Cache) Get(fp models.Fingerprint) (*models.CacheEntry, error) {
	if entry, ok := c.hot.get(fp); ok {
		snapshot := *entry
		return &snapshot, nil
	}

	c.mu.RLock()
	frame, ok := c.frames[fp]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	entry, err := c.inflate(fp, frame)
	if err != nil {
		return nil, err
	}
	c.hot.put(entry)
	snapshot := *entry
	return &snapshot, nil
}

// Contains reports presence without inflating the entry.
func (c *Cache) Contains(fp models.Fingerprint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.frames[fp]
	return ok
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}

// Search intersects the posting lists named by the query, then applies
// the time window against each entry's last observation.
func (c *Cache) Search(q Query) ([]*models.CacheEntry, error) {
	c.mu.RLock()
	candidates := c.candidateSet(q)
	frames := make(map[models.Fingerprint][]byte, len(candidates))
	for fp := range candidates {
		if frame, ok := c.frames[fp]; ok {
			frames[fp] = frame
		}
	}
	c.mu.RUnlock()

	results := make([]*models.CacheEntry, 0, len(frames))
	for fp, frame := range frames {
		entry, err := c.inflate(fp, frame)
		if err != nil {
			return nil, err
		}
		if !q.Since.IsZero() && entry.LastSeenAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && entry.LastSeenAt.After(q.Until) {
			continue
		}
		results = append(results, entry)
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].LastSeenAt.Equal(results[j].LastSeenAt) {
			return results[i].LastSeenAt.After(results[j].LastSeenAt)
		}
		return results[i].Fingerprint() < results[j].Fingerprint()
	})
	return results, nil
}

// TopCompanies returns the n companies with the most live entries.
func (c *Cache) TopCompanies(n int) []TokenCount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return topTokens(c.index.companies, n)
}

// TopTechnologies returns the n technologies with the most live entries.
func (c *Cache) TopTechnologies(n int) []TokenCount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return topTokens(c.index.technologies, n)
}

// Evict applies the retention policy: drop entries older than maxAge,
// then drop least-recently-observed entries until under maxSize. The
// primary is compacted when anything was removed.
func (c *Cache) Evict(now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type aged struct {
		fp   models.Fingerprint
		last time.Time
		size int64
	}
	entries := make([]aged, 0, len(c.frames))
	for fp, frame := range c.frames {
		entry, err := c.inflate(fp, frame)
		if err != nil {
			return 0, err
		}
		entries = append(entries, aged{fp: fp, last: entry.LastSeenAt, size: frameSize(frame)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].last.Before(entries[j].last) })

	evicted := 0
	remaining := c.liveBytes
	for _, e := range entries {
		expired := c.maxAge > 0 && now.Sub(e.last) > c.maxAge
		oversize := c.maxSize > 0 && remaining > c.maxSize
		if !expired && !oversize {
			break
		}
		if err := c.dropLocked(e.fp); err != nil {
			return evicted, err
		}
		remaining -= e.size
		evicted++
	}

	if evicted > 0 {
		if err := c.rewritePrimary(); err != nil {
			return evicted, err
		}
		c.logger.Info().Int("evicted", evicted).Int("remaining", len(c.frames)).Msg("Cache eviction complete")
	}
	return evicted, nil
}

// Flush persists the index against the current primary checksum.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Close flushes and releases the primary file handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.flushLocked(); err != nil {
		c.blob.Close()
		return err
	}
	return c.blob.Close()
}

func (c *Cache) flushLocked() error {
	if err := c.blob.Sync(); err != nil {
		return fmt.Errorf("failed to sync cache primary: %w", err)
	}
	checksum, err := c.primaryChecksum()
	if err != nil {
		return err
	}
	return c.index.save(c.indexPath(), checksum)
}

// candidateSet resolves the query's index filters to a fingerprint set.
// Caller holds at least the read lock.
func (c *Cache) candidateSet(q Query) map[models.Fingerprint]struct{} {
	all := func() map[models.Fingerprint]struct{} {
		out := make(map[models.Fingerprint]struct{}, len(c.frames))
		for fp := range c.frames {
			out[fp] = struct{}{}
		}
		return out
	}

	var candidates map[models.Fingerprint]struct{}
	intersect := func(kind map[string]map[models.Fingerprint]struct{}, tokens []string) {
		if len(tokens) == 0 {
			return
		}
		union := make(map[models.Fingerprint]struct{})
		for _, token := range tokens {
			for fp := range c.index.postings(kind, token) {
				union[fp] = struct{}{}
			}
		}
		if candidates == nil {
			candidates = union
			return
		}
		for fp := range candidates {
			if _, ok := union[fp]; !ok {
				delete(candidates, fp)
			}
		}
	}

	intersect(c.index.companies, q.Companies)
	intersect(c.index.technologies, q.Technologies)
	intersect(c.index.locations, q.Locations)

	if candidates == nil {
		return all()
	}
	return candidates
}

// dropLocked removes one entry from primary map, indexes and hot LRU.
func (c *Cache) dropLocked(fp models.Fingerprint) error {
	frame, ok := c.frames[fp]
	if !ok {
		return nil
	}
	entry, err := c.inflate(fp, frame)
	if err != nil {
		return err
	}
	c.index.remove(entry)
	c.hot.remove(fp)
	c.liveBytes -= frameSize(frame)
	delete(c.frames, fp)
	return nil
}

// loadPrimary scans the blob, keeping the newest frame per fingerprint.
// A truncated tail from a crashed write is tolerated: the readable
// prefix wins and the tail is discarded on the next compaction.
func (c *Cache) loadPrimary() error {
	data, err := os.ReadFile(c.primaryPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache primary: %w", err)
	}
	c.fileBytes = int64(len(data))

	off := 0
	for off+4 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		if off+4+n > len(data) {
			c.logger.Warn().Int("offset", off).Msg("Cache primary has a truncated tail, discarding")
			break
		}
		frame := data[off : off+4+n]
		entry, err := c.inflate("", frame)
		if err != nil {
			c.logger.Warn().Err(err).Int("offset", off).Msg("Skipping unreadable cache frame")
			off += 4 + n
			continue
		}
		fp := entry.Fingerprint()
		if old, ok := c.frames[fp]; ok {
			c.liveBytes -= frameSize(old)
		}
		c.frames[fp] = frame
		c.liveBytes += frameSize(frame)
		off += 4 + n
	}
	return nil
}

func (c *Cache) loadOrRebuildIndex() error {
	checksum, err := c.primaryChecksum()
	if err != nil {
		return err
	}

	stored, err := loadIndexFile(c.indexPath())
	if err == nil && stored.Checksum == checksum {
		c.index = stored.inflate()
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Msg("Cache index unreadable, rebuilding from primary")
	} else if err == nil {
		corrupt := models.NewError(models.ErrKindCacheCorruption, "", 0,
			fmt.Errorf("index checksum %s does not match primary %s", stored.Checksum, checksum))
		c.logger.Warn().Err(corrupt).Msg("Cache index stale, rebuilding from primary")
	}

	c.index = newInvertedIndex()
	for fp, frame := range c.frames {
		entry, err := c.inflate(fp, frame)
		if err != nil {
			return err
		}
		c.index.add(entry)
	}
	return c.index.save(c.indexPath(), checksum)
}

// rewritePrimary compacts the blob to live frames only, via a temp file
// rename in the same directory. Caller holds the write lock.
func (c *Cache) rewritePrimary() error {
	tmp, err := os.CreateTemp(c.dir, ".primary-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache compaction file: %w", err)
	}
	tmpName := tmp.Name()

	fps := make([]models.Fingerprint, 0, len(c.frames))
	for fp := range c.frames {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })

	var written int64
	for _, fp := range fps {
		n, err := tmp.Write(c.frames[fp])
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("failed to write cache compaction file: %w", err)
		}
		written += int64(n)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync cache compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache compaction file: %w", err)
	}

	if err := c.blob.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache primary before compaction: %w", err)
	}
	if err := os.Rename(tmpName, c.primaryPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache compaction: %w", err)
	}

	blob, err := os.OpenFile(c.primaryPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen cache primary after compaction: %w", err)
	}
	c.blob = blob
	c.fileBytes = written

	c.logger.Debug().
		Int("entries", len(c.frames)).
		Int64("bytes", written).
		Msg("Cache primary compacted")
	return nil
}

func (c *Cache) appendFrame(frame []byte) error {
	if _, err := c.blob.Write(frame); err != nil {
		return fmt.Errorf("failed to append cache frame: %w", err)
	}
	c.fileBytes += int64(len(frame))
	return nil
}

// compress serializes an entry into a length-prefixed zlib frame.
func (c *Cache) compress(entry *models.CacheEntry) ([]byte, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize cache entry: %w", err)
	}

	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0}) // length prefix placeholder
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("invalid cache compression level %d: %w", c.level, err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress cache entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish cache compression: %w", err)
	}

	frame := buf.Bytes()
	binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))
	return frame, nil
}

// inflate decodes one frame back into an entry. The fingerprint argument
// is only used for error context and may be empty during primary scan.
func (c *Cache) inflate(fp models.Fingerprint, frame []byte) (*models.CacheEntry, error) {
	r, err := zlib.NewReader(bytes.NewReader(frame[4:]))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache frame for %q: %w", fp, err)
	}
	defer r.Close()

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress cache frame for %q: %w", fp, err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry for %q: %w", fp, err)
	}
	return &entry, nil
}

func (c *Cache) primaryChecksum() (string, error) {
	f, err := os.Open(c.primaryPath())
	if os.IsNotExist(err) {
		return hex.EncodeToString(sha256.New().Sum(nil)), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open cache primary for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum cache primary: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Cache) primaryPath() string { return filepath.Join(c.dir, primaryFileName) }
func (c *Cache) indexPath() string   { return filepath.Join(c.dir, indexFileName) }

func frameSize(frame []byte) int64 { return int64(len(frame)) }
