// Package audit provides structured audit logging for every mutating
// engine step, in the spirit of a per-event-type application audit log but
// generalized to the engine's plugin/step shape instead of a fixed set of
// user actions.
package audit

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	appCtx "github.com/nocturneauth/authengine/internal/pkg/context"
)

// Logger emits one structured line per auditable step outcome.
type Logger struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Bool("audit", true).Logger()}
}

// Event describes one audited occurrence: a plugin step ran, with a result
// and a handful of safe, non-secret fields.
type Event struct {
	Plugin    string
	Step      string
	SubjectID string
	Result    string // "success" | "failure"
	Code      string // domain.Error.Code on failure, "" on success
	Fields    map[string]string
}

func (l *Logger) Record(ctx context.Context, e Event) {
	evt := l.log.Info()
	if e.Result != "success" {
		evt = l.log.Warn()
	}
	evt = evt.
		Str("plugin", e.Plugin).
		Str("step", e.Step).
		Str("subject_id", e.SubjectID).
		Str("result", e.Result)
	if e.Code != "" {
		evt = evt.Str("code", e.Code)
	}
	if reqID := appCtx.GetRequestID(ctx); reqID != "" {
		evt = evt.Str("request_id", reqID)
	}
	for k, v := range e.Fields {
		evt = evt.Str(k, v)
	}
	evt.Msg(e.Plugin + "." + e.Step)
}

// MaskIdentifier partially masks an email/phone/username for audit logs so
// raw PII never lands in log storage.
func MaskIdentifier(id string) string {
	if len(id) < 5 {
		return "***"
	}
	if at := strings.IndexByte(id, '@'); at >= 2 {
		return id[:2] + "***" + id[at:]
	}
	return id[:2] + "***" + id[len(id)-2:]
}
