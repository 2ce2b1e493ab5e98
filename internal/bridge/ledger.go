package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// Action statuses.
const (
	statusPending   = "pending"
	statusCommitted = "committed"
	statusFailed    = "failed"
	statusUndone    = "undone"
)

type clipboardEntry struct {
	Sequence   string
	Chromosome string
	Start, End int64
	Strand     string
	CopiedAt   time.Time
}

type action struct {
	ID         string
	Kind       string // delete | insert | replace
	Chromosome string
	Start, End int64 // for delete/replace
	Position   int64 // for insert
	Sequence   string
	// Original is the pre-edit content of the region, when known. Needed to
	// invert a replace.
	Original string
	Status   string
	StagedAt time.Time
}

func (a *action) toMap() map[string]any {
	m := map[string]any{
		"id":         a.ID,
		"kind":       a.Kind,
		"chromosome": a.Chromosome,
		"status":     a.Status,
		"staged_at":  a.StagedAt.UTC().Format(time.RFC3339),
	}
	switch a.Kind {
	case "insert":
		m["position"] = a.Position
		m["sequence"] = a.Sequence
	case "delete":
		m["start"] = a.Start
		m["end"] = a.End
		if a.Sequence != "" {
			m["sequence"] = a.Sequence
		}
	case "replace":
		m["start"] = a.Start
		m["end"] = a.End
		m["sequence"] = a.Sequence
	}
	return m
}

// Ledger is the per-client clipboard plus staged-edit queue and history. All
// methods are safe for concurrent use; the bridge hands one Ledger to each
// connection. Implements handler.Ledger.
type Ledger struct {
	mu        sync.Mutex
	clipboard *clipboardEntry
	queue     []*action // pending, in staging order
	history   []*action // committed, newest first
}

func newLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Copy(chromosome string, start, end int64, strand, sequence string) map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clipboard = &clipboardEntry{
		Sequence:   sequence,
		Chromosome: chromosome,
		Start:      start,
		End:        end,
		Strand:     strand,
		CopiedAt:   time.Now(),
	}
	return clipboardMap(l.clipboard)
}

// Cut copies the region and stages a delete for it. The captured sequence
// rides on the delete action so undo can reconstruct the insert.
func (l *Ledger) Cut(chromosome string, start, end int64, strand, sequence string) (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clipboard = &clipboardEntry{
		Sequence:   sequence,
		Chromosome: chromosome,
		Start:      start,
		End:        end,
		Strand:     strand,
		CopiedAt:   time.Now(),
	}
	a := &action{
		ID:         uuid.NewString(),
		Kind:       "delete",
		Chromosome: chromosome,
		Start:      start,
		End:        end,
		Sequence:   sequence,
		Status:     statusPending,
		StagedAt:   time.Now(),
	}
	l.queue = append(l.queue, a)
	return a.toMap(), nil
}

func (l *Ledger) Paste(chromosome string, position int64) (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clipboard == nil {
		return nil, errkind.E(errkind.EmptyClipboard, "clipboard is empty")
	}
	// A pasted insert must carry real bases; a clipboard entry without content
	// cannot be pasted.
	if l.clipboard.Sequence == "" {
		return nil, errkind.E(errkind.EmptyClipboard, "clipboard has no sequence content")
	}
	a := &action{
		ID:         uuid.NewString(),
		Kind:       "insert",
		Chromosome: chromosome,
		Position:   position,
		Sequence:   l.clipboard.Sequence,
		Status:     statusPending,
		StagedAt:   time.Now(),
	}
	l.queue = append(l.queue, a)
	return a.toMap(), nil
}

// Stage queues an edit action. original is the pre-edit content of the
// region when the caller captured it; a replace without it cannot be undone.
func (l *Ledger) Stage(kind, chromosome string, start, end, position int64, sequence, original string) (map[string]any, error) {
	switch kind {
	case "delete", "insert", "replace":
	default:
		return nil, errkind.E(errkind.InvalidArguments, "unknown action kind %q", kind)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a := &action{
		ID:         uuid.NewString(),
		Kind:       kind,
		Chromosome: chromosome,
		Start:      start,
		End:        end,
		Position:   position,
		Sequence:   sequence,
		Original:   original,
		Status:     statusPending,
		StagedAt:   time.Now(),
	}
	l.queue = append(l.queue, a)
	return a.toMap(), nil
}

func (l *Ledger) Clipboard() (map[string]any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clipboard == nil {
		return nil, false
	}
	return clipboardMap(l.clipboard), true
}

// List returns queue then history, filtered by status when given.
func (l *Ledger) List(status string) []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []map[string]any
	for _, a := range l.queue {
		if status == "" || a.Status == status {
			out = append(out, a.toMap())
		}
	}
	for _, a := range l.history {
		if status == "" || a.Status == status {
			out = append(out, a.toMap())
		}
	}
	return out
}

// PendingBatch snapshots the pending queue in staging order.
func (l *Ledger) PendingBatch() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]map[string]any, 0, len(l.queue))
	for _, a := range l.queue {
		out = append(out, a.toMap())
	}
	return out
}

// Commit consumes the pending queue against the per-action results the client
// reported. Actions commit in staging order until the first failure; from
// there every remaining action is failed. Committed actions are not rolled
// back on a later failure.
func (l *Ledger) Commit(results map[string]bool) []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	failedYet := false
	out := make([]map[string]any, 0, len(l.queue))
	for _, a := range l.queue {
		if !failedYet && results[a.ID] {
			a.Status = statusCommitted
			// newest first
			l.history = append([]*action{a}, l.history...)
		} else {
			if !failedYet {
				failedYet = true
			}
			a.Status = statusFailed
			l.history = append([]*action{a}, l.history...)
		}
		out = append(out, a.toMap())
	}
	l.queue = nil
	return out
}

// Clear drops entries with the given status from both queue and history.
func (l *Ledger) Clear(status string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	keepQ := l.queue[:0]
	for _, a := range l.queue {
		if a.Status == status {
			removed++
			continue
		}
		keepQ = append(keepQ, a)
	}
	l.queue = keepQ
	keepH := l.history[:0]
	for _, a := range l.history {
		if a.Status == status {
			removed++
			continue
		}
		keepH = append(keepH, a)
	}
	l.history = keepH
	return removed
}

// Undo stages the inverse of the most recently committed action and marks the
// original undone. Inverses: delete↔insert (needs the deleted sequence),
// replace needs the original content; anything else is UndoNotSupported.
func (l *Ledger) Undo() (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last *action
	for _, a := range l.history {
		if a.Status == statusCommitted {
			last = a
			break
		}
	}
	if last == nil {
		return nil, errkind.E(errkind.UndoNotSupported, "no committed action to undo")
	}

	inverse := &action{
		ID:         uuid.NewString(),
		Chromosome: last.Chromosome,
		Status:     statusPending,
		StagedAt:   time.Now(),
	}
	switch last.Kind {
	case "delete":
		if last.Sequence == "" {
			return nil, errkind.E(errkind.UndoNotSupported,
				"deleted content was not captured, cannot reinsert")
		}
		inverse.Kind = "insert"
		inverse.Position = last.Start
		inverse.Sequence = last.Sequence
	case "insert":
		inverse.Kind = "delete"
		inverse.Start = last.Position
		inverse.End = last.Position + int64(len(last.Sequence)) - 1
	case "replace":
		if last.Original == "" {
			return nil, errkind.E(errkind.UndoNotSupported,
				"original content unknown, cannot invert replace")
		}
		inverse.Kind = "replace"
		inverse.Start = last.Start
		inverse.End = last.Start + int64(len(last.Sequence)) - 1
		inverse.Sequence = last.Original
	default:
		return nil, errkind.E(errkind.UndoNotSupported, "cannot invert %q", last.Kind)
	}

	last.Status = statusUndone
	l.queue = append(l.queue, inverse)
	return inverse.toMap(), nil
}

// Progress records client-side status updates for a staged action, e.g. a
// long apply reporting per-action completion out of band.
func (l *Ledger) Progress(actionID, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.queue {
		if a.ID == actionID {
			a.Status = status
			return
		}
	}
	log.Debug().Str("action", actionID).Str("status", status).Msg("progress for unknown action")
}

func clipboardMap(c *clipboardEntry) map[string]any {
	return map[string]any{
		"sequence": c.Sequence,
		"provenance": map[string]any{
			"chromosome": c.Chromosome,
			"start":      c.Start,
			"end":        c.End,
			"strand":     c.Strand,
		},
		"copied_at": c.CopiedAt.UTC().Format(time.RFC3339),
	}
}
