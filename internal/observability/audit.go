package observability

import (
	"context"
	"log/slog"
)

// Audit emits the structured audit line that accompanies every durable audit
// row. Actor and reason are always present for block/revoke/rebind events.
func Audit(ctx context.Context, event, actor string, attrs ...any) {
	base := []any{
		"event", event,
		"actor", actor,
	}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
