package cache

import (
	"context"
	"log/slog"
)

// LineKey is the key of the availability snapshot of a budget line.
func LineKey(lineID string) string {
	return "availability:" + lineID
}

// InvalidateLines drops the snapshots of the given lines. Failures are
// logged, not returned: a stale dashboard entry expires with its TTL.
func InvalidateLines(ctx context.Context, s Store, logger *slog.Logger, lineIDs ...string) {
	if s == nil || len(lineIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(lineIDs))
	seen := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, LineKey(id))
	}
	if err := s.Delete(ctx, keys...); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("availability cache invalidation failed", "lines", lineIDs, "error", err)
	}
}
