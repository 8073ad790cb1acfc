// Package printer renders finished replays on the terminal.
package printer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// Printer 抽象输出接口
type Printer interface {
	PrintReplay(*flow.Flow) error
}

var globalReplayCounter uint64

func nextReplayNumber() uint64 {
	return atomic.AddUint64(&globalReplayCounter, 1)
}

// New 创建指定模式的 Printer
func New(log logger.Logger, cfg *config.OutputConfig) Printer {
	if cfg == nil {
		cfg = &config.OutputConfig{}
	}
	switch cfg.Mode {
	case "json":
		return NewJSONPrinter(log)
	default:
		return NewConsolePrinter(log, cfg)
	}
}

// Hook prints every replay once it has a response or an error.
type Hook struct {
	printer Printer
	logger  logger.Logger
}

// NewHook wraps p as a replay hook.
func NewHook(p Printer, log logger.Logger) *Hook {
	return &Hook{printer: p, logger: log}
}

// OnPhase implements hooks.Hook.
func (h *Hook) OnPhase(_ context.Context, phase hooks.Phase, f *flow.Flow) hooks.Verdict {
	if phase != hooks.PhaseResponse && phase != hooks.PhaseError {
		return hooks.Pass()
	}
	if err := h.printer.PrintReplay(f); err != nil {
		h.logger.Warn("Failed to print replay", "flow_id", f.ID, "error", err)
	}
	return hooks.Pass()
}

// elapsed returns the time from sending the request to the end of the
// response, or zero when either is unknown.
func elapsed(f *flow.Flow) time.Duration {
	if f.Request == nil || f.Response == nil {
		return 0
	}
	start, end := f.Request.TimestampStart, f.Response.TimestampEnd
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
