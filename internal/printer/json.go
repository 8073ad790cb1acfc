package printer

import (
	"encoding/json"
	"io"
	"os"
	"unicode/utf8"

	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// JSONPrinter 以 JSON 行输出回放结果
type JSONPrinter struct {
	encoder *json.Encoder
	logger  logger.Logger
	out     io.Writer
}

// NewJSONPrinter 创建 JSON 输出器
func NewJSONPrinter(log logger.Logger) *JSONPrinter {
	out := os.Stdout
	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)
	return &JSONPrinter{encoder: encoder, logger: log, out: out}
}

// SetOutput 替换输出目标，便于测试
func (p *JSONPrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	p.out = w
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	p.encoder = encoder
}

type jsonReplayEnvelope struct {
	Type       string       `json:"type"`
	Seq        uint64       `json:"seq"`
	DurationMs int64        `json:"duration_ms,omitempty"`
	Flow       *flow.Record `json:"flow"`
	BodyText   string       `json:"body_text,omitempty"`
}

// PrintReplay 输出回放 JSON
func (p *JSONPrinter) PrintReplay(f *flow.Flow) error {
	env := jsonReplayEnvelope{
		Type:       "replay",
		Seq:        nextReplayNumber(),
		DurationMs: elapsed(f).Milliseconds(),
		Flow:       flow.ToRecord(f),
	}
	if f.Response != nil && len(f.Response.Content) > 0 && utf8.Valid(f.Response.Content) {
		env.BodyText = string(f.Response.Content)
	}
	if err := p.encoder.Encode(env); err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to encode replay JSON", "error", err)
		}
		return err
	}
	return nil
}
