package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	c := newResultCache(path)
	c.put("key-a", map[string]any{"value": "alpha"})
	c.put("key-b", map[string]any{"value": "beta"})
	c.put("key-a", map[string]any{"value": "alpha2"}) // last writer wins

	reloaded := newResultCache(path)
	got, ok := reloaded.get("key-a")
	if !ok || got["value"] != "alpha2" {
		t.Errorf("key-a = %#v, ok=%v; want alpha2", got, ok)
	}
	if _, ok := reloaded.get("key-b"); !ok {
		t.Error("key-b lost on reload")
	}
}

func TestCacheDropsExpiredOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	expired := `{"cache_key":"old","result":{"v":1},"stored_at":"2020-01-01T00:00:00Z","ttl":60}` + "\n"
	if err := os.WriteFile(path, []byte(expired), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newResultCache(path)
	if _, ok := c.get("old"); ok {
		t.Error("expired record served from cache")
	}
}

func TestCacheSkipsTornRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	content := `{"cache_key":"good","result":{"v":1},"stored_at":"` +
		time.Now().UTC().Format(time.RFC3339) + `","ttl":3600}` + "\n" +
		`{"cache_key":"torn","resul` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newResultCache(path)
	if _, ok := c.get("good"); !ok {
		t.Error("valid record lost next to a torn one")
	}
	if _, ok := c.get("torn"); ok {
		t.Error("torn record accepted")
	}
}

func TestMarkInterrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	l := newTransitionLog(path)
	l.record(transitionRecord{TaskID: "t1", Tool: "blast_search", State: StateRunning, At: time.Now()})
	l.record(transitionRecord{TaskID: "t2", Tool: "msa_align", State: StateSucceeded, At: time.Now()})

	if n := l.markInterrupted(); n != 1 {
		t.Fatalf("marked %d tasks, want 1 (only the non-terminal one)", n)
	}
	// A second pass sees the appended failed transition and marks nothing.
	if n := newTransitionLog(path).markInterrupted(); n != 0 {
		t.Errorf("second pass marked %d tasks, want 0", n)
	}
}
