package storage

import (
	"context"

	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// History records every replay outcome in the store.
type History struct {
	store Store
	log   logger.Logger
}

// NewHistory creates a hook writing replay outcomes to store.
func NewHistory(store Store, log logger.Logger) *History {
	return &History{store: store, log: log}
}

// OnPhase implements hooks.Hook.
func (h *History) OnPhase(_ context.Context, phase hooks.Phase, f *flow.Flow) hooks.Verdict {
	if phase == hooks.PhaseRequest || f.Request == nil {
		return hooks.Pass()
	}

	req := f.Request
	rec := &ReplayRecord{
		FlowID:    f.ID,
		Timestamp: req.TimestampStart,
		Method:    req.Method,
		URL:       flow.HostPort(req.Scheme, req.Host, req.Port) + req.Path,
	}
	if resp := f.Response; resp != nil {
		rec.StatusCode = resp.StatusCode
		if !req.TimestampStart.IsZero() && !resp.TimestampEnd.IsZero() {
			rec.DurationMs = resp.TimestampEnd.Sub(req.TimestampStart).Milliseconds()
		}
	}
	if f.Error != nil {
		rec.Error = f.Error.Msg
	}

	if _, err := h.store.RecordReplay(rec); err != nil {
		h.log.Warn("Failed to record replay history", "flow_id", f.ID, "error", err)
	}
	return hooks.Pass()
}
