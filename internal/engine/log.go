package engine

import (
	"context"
	"log/slog"

	"go.klb.dev/clipd/internal/history"
)

// logEntry logs a history mutation at INFO (group, id, origin, mime types)
// and DEBUG (text preview up to 120 chars, or byte size for binary items).
func logEntry(event string, e history.Entry) {
	slog.Info(event,
		"group", e.Group,
		"id", e.ID,
		"origin", e.Origin,
		"expiry", e.Expiry.String(),
		"types", e.MIMEs(),
	)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, it := range e.Items {
		if it.MIME == "text/plain" {
			preview := string(it.Data)
			if len(preview) > 120 {
				preview = preview[:120] + "…"
			}
			slog.Debug("entry item", "mime", it.MIME, "preview", preview)
		} else {
			slog.Debug("entry item", "mime", it.MIME, "size_bytes", len(it.Data))
		}
	}
}
