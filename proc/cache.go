package proc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgCacheHit        = "Cache hit for %s (%d bytes)"
	MsgCacheStored     = "Cached %s (%d bytes)"
	MsgCacheCorrupt    = "Removing empty cache file for %s"
	MsgCacheReadFail   = "Failed to read cached %s: %v"
	MsgCacheEvicted    = "Evicted %d files, cache now %.1f MB"
	MsgCacheEvictFail  = "Failed to evict %s: %v"
	MsgCacheOverBudget = "Cache still at %.1f MB after eviction; only in-flight downloads remain"

	megabyte      = 1 << 20
	cacheExt      = ".webm"
	partialSuffix = ".part"
)

var safeTrackID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// AudioCache stores downloaded tracks on disk, one file per track identifier.
type AudioCache struct {
	dir        string
	high       int64
	low        int64
	downloader Downloader
	locks      *keyedMutex
	evictMu    sync.Mutex
}

type CacheOption func(*AudioCache)

// WithWatermarks sets the eviction thresholds in bytes.
func WithWatermarks(high, low int64) CacheOption {
	return func(c *AudioCache) {
		c.high = high
		c.low = low
	}
}

func NewAudioCache(dir string, d Downloader, opts ...CacheOption) (*AudioCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audio cache dir: %w", err)
	}
	c := &AudioCache{
		dir:        dir,
		high:       100 * megabyte,
		low:        30 * megabyte,
		downloader: d,
		locks:      newKeyedMutex(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *AudioCache) Dir() string {
	return c.dir
}

// cacheKey turns a track identifier into a safe file stem.
func cacheKey(trackID string) string {
	if safeTrackID.MatchString(trackID) {
		return trackID
	}
	sum := sha256.Sum256([]byte(trackID))
	return hex.EncodeToString(sum[:16])
}

func (c *AudioCache) Path(trackID string) string {
	return filepath.Join(c.dir, cacheKey(trackID)+cacheExt)
}

// Get returns the audio for trackID, downloading it when the cache has no usable copy.
func (c *AudioCache) Get(ctx context.Context, trackID string) ([]byte, error) {
	key := cacheKey(trackID)
	unlock := c.locks.Lock(key)
	defer unlock()

	path := c.Path(trackID)
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) > 0:
		sys.LogDebug(MsgCacheHit, trackID, len(data))
		return data, nil
	case err == nil:
		sys.LogAudio(MsgCacheCorrupt, trackID)
		_ = os.Remove(path)
	case !errors.Is(err, fs.ErrNotExist):
		sys.LogAudio(MsgCacheReadFail, trackID, err)
	}

	return c.fetch(ctx, trackID, path)
}

func (c *AudioCache) fetch(ctx context.Context, trackID, path string) ([]byte, error) {
	part := path + partialSuffix
	f, err := os.Create(part)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisition, err)
	}

	var buf bytes.Buffer
	dlErr := c.downloader.Download(ctx, trackID, io.MultiWriter(f, &buf))
	closeErr := f.Close()

	if dlErr != nil || buf.Len() == 0 {
		_ = os.Remove(part)
		if dlErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrAcquisition, trackID, dlErr)
		}
		return nil, fmt.Errorf("%w: %s: download produced no data", ErrAcquisition, trackID)
	}
	if closeErr != nil {
		_ = os.Remove(part)
		return nil, fmt.Errorf("%w: %v", ErrAcquisition, closeErr)
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return nil, fmt.Errorf("%w: %v", ErrAcquisition, err)
	}

	sys.LogAudio(MsgCacheStored, trackID, buf.Len())
	return buf.Bytes(), nil
}

type cacheFile struct {
	name string
	size int64
}

func (c *AudioCache) scan() (int64, []cacheFile, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, nil, err
	}
	var total int64
	files := make([]cacheFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		if strings.HasSuffix(e.Name(), partialSuffix) {
			continue
		}
		files = append(files, cacheFile{name: e.Name(), size: info.Size()})
	}
	return total, files, nil
}

// Usage reports the bytes and number of completed files in the cache directory.
func (c *AudioCache) Usage() (int64, int, error) {
	total, files, err := c.scan()
	return total, len(files), err
}

// EnforceDiskBudget deletes cached tracks once the directory exceeds the high
// watermark, continuing until it is at or below the low watermark.
func (c *AudioCache) EnforceDiskBudget() error {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	total, files, err := c.scan()
	if err != nil {
		return fmt.Errorf("%w: scan cache: %v", ErrAcquisition, err)
	}
	if total <= c.high {
		return nil
	}

	removed := 0
	for _, f := range files {
		if total <= c.low {
			break
		}
		if err := c.remove(f.name); err != nil {
			sys.LogAudio(MsgCacheEvictFail, f.name, err)
			continue
		}
		total -= f.size
		removed++
	}

	sys.LogAudio(MsgCacheEvicted, removed, float64(total)/megabyte)
	if total > c.low {
		sys.LogWarn(MsgCacheOverBudget, float64(total)/megabyte)
	}
	return nil
}

func (c *AudioCache) remove(name string) error {
	unlock := c.locks.Lock(strings.TrimSuffix(name, cacheExt))
	defer unlock()
	err := os.Remove(filepath.Join(c.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Purge removes every completed file and returns how many were deleted.
func (c *AudioCache) Purge() (int, error) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	_, files, err := c.scan()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := c.remove(f.name); err != nil {
			sys.LogAudio(MsgCacheEvictFail, f.name, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// CleanPartials removes leftovers of downloads interrupted by a previous run.
func (c *AudioCache) CleanPartials() {
	matches, _ := filepath.Glob(filepath.Join(c.dir, "*"+partialSuffix))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// keyedMutex hands out one mutex per key and drops it once nobody holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
