package handler

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// Action handlers. The staging ledger lives on the server (per connected
// client); only execute_actions reaches into the client, which applies the
// pending batch and reports per-action success. Nothing here mutates the
// genome directly.

func registerActions(t map[string]Func) {
	t["copy_sequence"] = copySequence
	t["cut_sequence"] = cutSequence
	t["paste_sequence"] = pasteSequence
	t["delete_sequence"] = deleteSequence
	t["insert_sequence"] = insertSequence
	t["replace_sequence"] = replaceSequence
	t["get_clipboard"] = getClipboard
	t["get_action_list"] = getActionList
	t["execute_actions"] = executeActions
	t["clear_actions"] = clearActions
	t["undo_last_action"] = undoLastAction
}

// targetLedger resolves the client the call is aimed at and returns its
// ledger alongside the client id.
func targetLedger(h *Ctx, args map[string]any) (string, Ledger, error) {
	clientID, err := h.Bridge.ResolveTarget(strArg(args, "clientId"))
	if err != nil {
		return "", nil, err
	}
	return clientID, h.Bridge.Ledger(clientID), nil
}

func regionArgs(args map[string]any) (string, int64, int64, error) {
	chromosome := strArg(args, "chromosome")
	start := int64(numArg(args, "start", 0))
	end := int64(numArg(args, "end", 0))
	if start < 1 || end < start {
		return "", 0, 0, errkind.E(errkind.InvalidArguments,
			"invalid region %s:%d-%d", chromosome, start, end)
	}
	return chromosome, start, end, nil
}

// fetchRegion asks the target client for the literal bases of a region. The
// clipboard and undo machinery both need real content, so callers treat a
// failed fetch as fatal unless the content is strictly optional for them.
func fetchRegion(ctx context.Context, h *Ctx, clientID, chromosome string, start, end int64) (string, error) {
	result, err := h.Bridge.Invoke(ctx, clientID, "get_region_sequence", map[string]any{
		"chromosome": chromosome,
		"start":      float64(start),
		"end":        float64(end),
	}, h.Opts.ClientCallTimeout)
	if err != nil {
		return "", err
	}
	seq, _ := result["sequence"].(string)
	return strings.ToUpper(seq), nil
}

func copySequence(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	chromosome, start, end, err := regionArgs(args)
	if err != nil {
		return nil, err
	}
	strand := strArg(args, "strand")
	if strand == "" {
		strand = "+"
	}
	sequence, err := fetchRegion(ctx, h, clientID, chromosome, start, end)
	if err != nil {
		return nil, err
	}
	entry := ledger.Copy(chromosome, start, end, strand, sequence)
	return map[string]any{"client_id": clientID, "clipboard": entry}, nil
}

func cutSequence(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	chromosome, start, end, err := regionArgs(args)
	if err != nil {
		return nil, err
	}
	strand := strArg(args, "strand")
	if strand == "" {
		strand = "+"
	}
	sequence, err := fetchRegion(ctx, h, clientID, chromosome, start, end)
	if err != nil {
		return nil, err
	}
	action, err := ledger.Cut(chromosome, start, end, strand, sequence)
	if err != nil {
		return nil, err
	}
	return map[string]any{"client_id": clientID, "action": action}, nil
}

func pasteSequence(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	chromosome := strArg(args, "chromosome")
	position := int64(numArg(args, "position", 0))
	if position < 1 {
		return nil, errkind.E(errkind.InvalidArguments, "position must be >= 1")
	}
	action, err := ledger.Paste(chromosome, position)
	if err != nil {
		return nil, err
	}
	return map[string]any{"client_id": clientID, "action": action}, nil
}

func deleteSequence(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	chromosome, start, end, err := regionArgs(args)
	if err != nil {
		return nil, err
	}
	action, err := ledger.Stage("delete", chromosome, start, end, 0, "", "")
	if err != nil {
		return nil, err
	}
	return map[string]any{"client_id": clientID, "action": action}, nil
}

func insertSequence(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	chromosome := strArg(args, "chromosome")
	position := int64(numArg(args, "position", 0))
	if position < 1 {
		return nil, errkind.E(errkind.InvalidArguments, "position must be >= 1")
	}
	sequence := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", sequence); err != nil {
		return nil, err
	}
	action, err := ledger.Stage("insert", chromosome, 0, 0, position, sequence, "")
	if err != nil {
		return nil, err
	}
	return map[string]any{"client_id": clientID, "action": action}, nil
}

func replaceSequence(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	chromosome, start, end, err := regionArgs(args)
	if err != nil {
		return nil, err
	}
	sequence := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", sequence); err != nil {
		return nil, err
	}
	// Capture the pre-edit content so the replace can be undone. The edit
	// itself does not depend on it, so a failed fetch only costs undo.
	original, err := fetchRegion(ctx, h, clientID, chromosome, start, end)
	if err != nil {
		log.Warn().Err(err).Str("client", clientID).Msg("region fetch failed, replace will not be undoable")
		original = ""
	}
	action, err := ledger.Stage("replace", chromosome, start, end, 0, sequence, original)
	if err != nil {
		return nil, err
	}
	return map[string]any{"client_id": clientID, "action": action}, nil
}

func getClipboard(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	entry, ok := ledger.Clipboard()
	if !ok {
		return map[string]any{"client_id": clientID, "empty": true}, nil
	}
	return map[string]any{"client_id": clientID, "empty": false, "clipboard": entry}, nil
}

func getActionList(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	status := strArg(args, "status")
	actions := ledger.List(status)
	return map[string]any{
		"client_id": clientID,
		"status":    status,
		"count":     len(actions),
		"actions":   actions,
	}, nil
}

// executeActions sends the pending batch to the client in staging order and
// commits the ledger with the per-action outcomes the client reports. A
// partial failure commits what succeeded; nothing is rolled back.
func executeActions(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	batch := ledger.PendingBatch()
	if len(batch) == 0 {
		return map[string]any{"client_id": clientID, "executed": 0, "actions": []map[string]any{}}, nil
	}

	reply, err := h.Bridge.Invoke(ctx, clientID, "apply_edits",
		map[string]any{"actions": batch}, h.Opts.ClientCallTimeout)
	if err != nil {
		return nil, err
	}

	// The client reports {results: {actionID: bool}}. Anything it omits is
	// treated as failed.
	results := map[string]bool{}
	if raw, ok := reply["results"].(map[string]any); ok {
		for id, v := range raw {
			ok, _ := v.(bool)
			results[id] = ok
		}
	}
	committed := ledger.Commit(results)

	succeeded := 0
	for _, a := range committed {
		if s, _ := a["status"].(string); s == "committed" {
			succeeded++
		}
	}
	log.Info().Str("client", clientID).Int("total", len(committed)).Int("succeeded", succeeded).
		Msg("action batch executed")
	return map[string]any{
		"client_id": clientID,
		"executed":  len(committed),
		"succeeded": succeeded,
		"failed":    len(committed) - succeeded,
		"actions":   committed,
	}, nil
}

func clearActions(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	status := strArg(args, "status")
	if status == "" {
		status = "pending"
	}
	removed := ledger.Clear(status)
	return map[string]any{"client_id": clientID, "status": status, "removed": removed}, nil
}

func undoLastAction(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, ledger, err := targetLedger(h, args)
	if err != nil {
		return nil, err
	}
	inverse, err := ledger.Undo()
	if err != nil {
		return nil, err
	}
	return map[string]any{"client_id": clientID, "staged_inverse": inverse}, nil
}
