// Package command handles the commands foreground windows send to the agent.
package command

import (
	"context"

	"github.com/kimhsiao/teamsync/agent/internal/bridge"
	"github.com/kimhsiao/teamsync/agent/internal/logging"
)

// DefaultSyncTag is the tag a sync opportunity is registered under.
const DefaultSyncTag = "sync-queue"

// Registrar registers a future sync opportunity.
type Registrar interface {
	Register(tag string) error
}

// Result is the reply to schedule-sync.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TokenResult is the reply to get-auth-token. The agent never holds a token,
// so Token is always nil.
type TokenResult struct {
	Token *string `json:"token"`
}

// Handler dispatches inbound commands.
type Handler struct {
	registrar Registrar
	syncTag   string
}

// NewHandler creates a new Handler. An empty syncTag uses DefaultSyncTag.
func NewHandler(registrar Registrar, syncTag string) *Handler {
	if syncTag == "" {
		syncTag = DefaultSyncTag
	}
	return &Handler{
		registrar: registrar,
		syncTag:   syncTag,
	}
}

// Handle implements bridge.CommandHandler.
func (h *Handler) Handle(ctx context.Context, msg bridge.Message) (interface{}, bool) {
	switch msg.Type {
	case bridge.TypeScheduleSync:
		return h.ScheduleSync(ctx), true
	case bridge.TypeGetAuthToken:
		return TokenResult{}, true
	default:
		logging.Warn("Unknown command", map[string]interface{}{"type": msg.Type})
		return nil, false
	}
}

// ScheduleSync registers the sync tag.
func (h *Handler) ScheduleSync(ctx context.Context) Result {
	if err := h.registrar.Register(h.syncTag); err != nil {
		logging.Error("Failed to register sync", err, map[string]interface{}{"tag": h.syncTag})
		return Result{Success: false, Error: err.Error()}
	}
	logging.Info("Sync registered", map[string]interface{}{"tag": h.syncTag})
	return Result{Success: true}
}

var _ bridge.CommandHandler = (*Handler)(nil)
