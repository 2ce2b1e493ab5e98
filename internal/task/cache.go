package task

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

const defaultCacheTTL = 24 * time.Hour

// CacheKey derives a content-addressed key from the tool name and its
// canonicalized arguments (sorted map keys, std-compatible encoding).
func CacheKey(tool string, args map[string]any) string {
	data, err := sonic.ConfigStd.Marshal(args)
	if err != nil {
		data = []byte("{}")
	}
	sum := sha256.Sum256(append([]byte(tool+"\x00"), data...))
	return hex.EncodeToString(sum[:])
}

type cacheRecord struct {
	CacheKey string         `json:"cache_key"`
	Result   map[string]any `json:"result"`
	StoredAt time.Time      `json:"stored_at"`
	TTL      int64          `json:"ttl"` // seconds
}

func (r cacheRecord) expired(now time.Time) bool {
	return now.After(r.StoredAt.Add(time.Duration(r.TTL) * time.Second))
}

// resultCache is an in-memory last-writer-wins cache with an optional
// append-only JSONL backing file, compacted on load.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheRecord
	path    string // empty disables persistence
}

func newResultCache(path string) *resultCache {
	c := &resultCache{entries: make(map[string]cacheRecord), path: path}
	if path != "" {
		c.load()
	}
	return c
}

// load replays the backing file keeping the newest unexpired record per key,
// then rewrites the file compacted.
func (c *resultCache) load() {
	f, err := os.Open(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", c.path).Msg("cache file unreadable, starting empty")
		}
		return
	}
	defer f.Close()

	now := time.Now()
	kept := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		var rec cacheRecord
		if err := sonic.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // torn write at crash; skip
		}
		if rec.CacheKey == "" || rec.expired(now) {
			continue
		}
		c.entries[rec.CacheKey] = rec
		kept++
	}
	log.Debug().Int("records", kept).Str("path", c.path).Msg("cache loaded")
	c.compact()
}

func (c *resultCache) compact() {
	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		log.Warn().Err(err).Msg("cache compaction skipped")
		return
	}
	w := bufio.NewWriter(f)
	for _, rec := range c.entries {
		data, err := sonic.Marshal(rec)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	w.Flush()
	f.Close()
	if err := os.Rename(tmp, c.path); err != nil {
		log.Warn().Err(err).Msg("cache compaction rename failed")
	}
}

func (c *resultCache) get(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[key]
	if !ok || rec.expired(time.Now()) {
		return nil, false
	}
	return rec.Result, true
}

func (c *resultCache) put(key string, result map[string]any) {
	rec := cacheRecord{
		CacheKey: key,
		Result:   result,
		StoredAt: time.Now(),
		TTL:      int64(defaultCacheTTL / time.Second),
	}
	c.mu.Lock()
	c.entries[key] = rec
	c.mu.Unlock()

	if c.path == "" {
		return
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("cache append failed")
		return
	}
	defer f.Close()
	if data, err := sonic.Marshal(rec); err == nil {
		f.Write(append(data, '\n'))
	}
}

// transitionLog is the line-delimited task state log.
type transitionLog struct {
	mu   sync.Mutex
	path string
}

type transitionRecord struct {
	TaskID string    `json:"task_id"`
	Tool   string    `json:"tool"`
	State  State     `json:"state"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

func newTransitionLog(path string) *transitionLog {
	return &transitionLog{path: path}
}

func (l *transitionLog) record(rec transitionRecord) {
	if l == nil || l.path == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("task log append failed")
		return
	}
	defer f.Close()
	if data, err := sonic.Marshal(rec); err == nil {
		f.Write(append(data, '\n'))
	}
}

// markInterrupted appends a failed transition for every task whose last
// logged state is non-terminal. Called once at startup; the handlers are not
// resumable, so interrupted work is surfaced as failure rather than silently
// rerun.
func (l *transitionLog) markInterrupted() int {
	if l == nil || l.path == "" {
		return 0
	}
	f, err := os.Open(l.path)
	if err != nil {
		return 0
	}
	last := map[string]transitionRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		var rec transitionRecord
		if err := sonic.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		last[rec.TaskID] = rec
	}
	f.Close()

	n := 0
	for _, rec := range last {
		if rec.State.Terminal() {
			continue
		}
		l.record(transitionRecord{
			TaskID: rec.TaskID,
			Tool:   rec.Tool,
			State:  StateFailed,
			At:     time.Now(),
			Error:  "interrupted by restart",
		})
		n++
	}
	if n > 0 {
		log.Info().Int("tasks", n).Msg("marked interrupted tasks as failed")
	}
	return n
}
