package handler

import (
	"context"
	"time"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// Coordination handlers expose the broker's own machinery as tools: the
// selector, the task manager, and the client roster.

func registerCoordination(t map[string]Func) {
	t["suggest_tools"] = suggestTools
	t["get_task_status"] = getTaskStatus
	t["cancel_task"] = cancelTask
	t["server_status"] = serverStatus
	t["list_clients"] = listClients
	t["get_client_state"] = getClientState
}

func suggestTools(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	intent := strArg(args, "intent")
	limit := intArg(args, "limit", 10)

	var state map[string]any
	if clientID, err := h.Bridge.ResolveTarget(strArg(args, "clientId")); err == nil {
		state = h.Bridge.LastState(clientID)
	}

	var suggestions []map[string]any
	for _, d := range h.Suggest.Select(intent, state, limit) {
		suggestions = append(suggestions, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"category":    string(d.Category),
			"side":        string(d.Side),
		})
	}
	return map[string]any{
		"intent": intent,
		"count":  len(suggestions),
		"tools":  suggestions,
	}, nil
}

func getTaskStatus(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	taskID := strArg(args, "task_id")
	status, ok := h.Tasks.Status(taskID)
	if !ok {
		return nil, errkind.E(errkind.InvalidArguments, "no task %q", taskID)
	}
	return status, nil
}

func cancelTask(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	taskID := strArg(args, "task_id")
	if _, ok := h.Tasks.Status(taskID); !ok {
		return nil, errkind.E(errkind.InvalidArguments, "no task %q", taskID)
	}
	cancelled := h.Tasks.Cancel(taskID)
	return map[string]any{"task_id": taskID, "cancelled": cancelled}, nil
}

func serverStatus(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	queued, running, terminal := h.Tasks.Counts()
	return map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.Started).Seconds()),
		"clients":        len(h.Bridge.ClientIDs()),
		"tools":          h.Registry.Len(),
		"tasks": map[string]any{
			"queued":   queued,
			"running":  running,
			"terminal": terminal,
		},
	}, nil
}

func listClients(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	var clients []map[string]any
	for _, id := range h.Bridge.ClientIDs() {
		clients = append(clients, map[string]any{
			"client_id":    id,
			"capabilities": h.Bridge.Capabilities(id),
		})
	}
	return map[string]any{"count": len(clients), "clients": clients}, nil
}

func getClientState(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	clientID, err := h.Bridge.ResolveTarget(strArg(args, "clientId"))
	if err != nil {
		return nil, err
	}
	state := h.Bridge.LastState(clientID)
	if state == nil {
		return map[string]any{"client_id": clientID, "state": map[string]any{}, "stale": true}, nil
	}
	return map[string]any{"client_id": clientID, "state": state, "stale": false}, nil
}
