package handler

import (
	"context"
	"testing"
	"time"

	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// ledgerStub records what the action handlers stage; only what the tests
// inspect is kept.
type ledgerStub struct {
	clipboard map[string]any
	staged    []map[string]any
}

func (l *ledgerStub) Copy(chromosome string, start, end int64, strand, sequence string) map[string]any {
	l.clipboard = map[string]any{"sequence": sequence}
	return l.clipboard
}

func (l *ledgerStub) Cut(chromosome string, start, end int64, strand, sequence string) (map[string]any, error) {
	l.clipboard = map[string]any{"sequence": sequence}
	a := map[string]any{"kind": "delete", "sequence": sequence}
	l.staged = append(l.staged, a)
	return a, nil
}

func (l *ledgerStub) Paste(chromosome string, position int64) (map[string]any, error) {
	if l.clipboard == nil {
		return nil, errkind.E(errkind.EmptyClipboard, "clipboard is empty")
	}
	a := map[string]any{"kind": "insert", "sequence": l.clipboard["sequence"]}
	l.staged = append(l.staged, a)
	return a, nil
}

func (l *ledgerStub) Stage(kind, chromosome string, start, end, position int64, sequence, original string) (map[string]any, error) {
	a := map[string]any{"kind": kind, "sequence": sequence, "original": original}
	l.staged = append(l.staged, a)
	return a, nil
}

func (l *ledgerStub) Clipboard() (map[string]any, bool) { return l.clipboard, l.clipboard != nil }

func (l *ledgerStub) List(string) []map[string]any { return nil }

func (l *ledgerStub) PendingBatch() []map[string]any { return l.staged }

func (l *ledgerStub) Commit(map[string]bool) []map[string]any { return nil }

func (l *ledgerStub) Clear(string) int { return 0 }

func (l *ledgerStub) Undo() (map[string]any, error) { return nil, nil }

// bridgeStub serves a single client whose Invoke either fails or returns a
// fixed result.
type bridgeStub struct {
	ledger    *ledgerStub
	invokeErr error
	result    map[string]any
	invoked   []string
}

func (b *bridgeStub) ResolveTarget(explicit string) (string, error) { return "client-1", nil }

func (b *bridgeStub) Invoke(ctx context.Context, clientID, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	b.invoked = append(b.invoked, toolName)
	if b.invokeErr != nil {
		return nil, b.invokeErr
	}
	return b.result, nil
}

func (b *bridgeStub) ClientIDs() []string { return []string{"client-1"} }

func (b *bridgeStub) Capabilities(string) []string { return nil }

func (b *bridgeStub) LastState(string) map[string]any { return nil }

func (b *bridgeStub) Ledger(string) Ledger { return b.ledger }

func actionCtx(b *bridgeStub) *Ctx {
	return &Ctx{
		Opts:   &config.Options{ClientCallTimeout: time.Second},
		Bridge: b,
	}
}

func TestCopySequenceFailsWhenRegionFetchFails(t *testing.T) {
	b := &bridgeStub{
		ledger:    &ledgerStub{},
		invokeErr: errkind.E(errkind.ClientTimeout, "no reply"),
	}
	_, err := copySequence(context.Background(), actionCtx(b), map[string]any{
		"chromosome": "chr1", "start": float64(100), "end": float64(120),
	})
	if errkind.KindOf(err) != errkind.ClientTimeout {
		t.Fatalf("kind = %v, want the fetch failure surfaced", errkind.KindOf(err))
	}
	if b.ledger.clipboard != nil {
		t.Error("clipboard populated despite failed region fetch")
	}
}

func TestCutSequenceCapturesFetchedContent(t *testing.T) {
	b := &bridgeStub{
		ledger: &ledgerStub{},
		result: map[string]any{"sequence": "atcg"},
	}
	got, err := cutSequence(context.Background(), actionCtx(b), map[string]any{
		"chromosome": "chr1", "start": float64(100), "end": float64(103),
	})
	if err != nil {
		t.Fatal(err)
	}
	action := got["action"].(map[string]any)
	if action["sequence"] != "ATCG" {
		t.Errorf("staged delete sequence = %v, want the uppercased fetch", action["sequence"])
	}
}

func TestReplaceSequenceCapturesOriginal(t *testing.T) {
	b := &bridgeStub{
		ledger: &ledgerStub{},
		result: map[string]any{"sequence": "atcg"},
	}
	_, err := replaceSequence(context.Background(), actionCtx(b), map[string]any{
		"chromosome": "chr1", "start": float64(40), "end": float64(43), "sequence": "GGGG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(b.ledger.staged) != 1 {
		t.Fatalf("staged %d actions, want 1", len(b.ledger.staged))
	}
	if b.ledger.staged[0]["original"] != "ATCG" {
		t.Errorf("original = %v, want the pre-edit content ATCG", b.ledger.staged[0]["original"])
	}
}

func TestReplaceSequenceStagesWithoutOriginalOnFetchFailure(t *testing.T) {
	b := &bridgeStub{
		ledger:    &ledgerStub{},
		invokeErr: errkind.E(errkind.ClientTimeout, "no reply"),
	}
	_, err := replaceSequence(context.Background(), actionCtx(b), map[string]any{
		"chromosome": "chr1", "start": float64(40), "end": float64(43), "sequence": "GGGG",
	})
	if err != nil {
		t.Fatalf("replace must still stage when the fetch fails: %v", err)
	}
	if len(b.ledger.staged) != 1 || b.ledger.staged[0]["original"] != "" {
		t.Errorf("staged = %#v, want one replace with empty original", b.ledger.staged)
	}
}
