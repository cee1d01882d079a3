package pubqueue

import (
	"sort"
	"time"

	logx "crosspub/pkg/logx"
)

// sweep evicts terminal items per the retention policy: first everything
// whose UpdatedAt is older than the TTL, then the oldest terminal items until
// the count fits under MaxTerminal. Non-terminal and in-flight items are
// never touched.
//
// Evicted items are handed to the configured Archiver, which must not block.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()

	var (
		terminal []*Item
		ret      = e.cfg.Retention
	)
	for _, it := range e.store.items {
		if !it.Status.Terminal() {
			continue
		}
		if _, busy := e.inFlight[it.ID]; busy {
			continue
		}
		terminal = append(terminal, it)
	}

	cutoff := now.Add(-ret.TTL)
	var evicted []*Item
	kept := terminal[:0]
	for _, it := range terminal {
		if it.UpdatedAt.Before(cutoff) {
			evicted = append(evicted, it)
			continue
		}
		kept = append(kept, it)
	}

	if len(kept) > ret.MaxTerminal {
		sort.Slice(kept, func(i, j int) bool { return kept[i].UpdatedAt.Before(kept[j].UpdatedAt) })
		over := len(kept) - ret.MaxTerminal
		evicted = append(evicted, kept[:over]...)
	}

	copies := make([]Item, 0, len(evicted))
	for _, it := range evicted {
		e.store.delete(it)
		copies = append(copies, it.clone())
		e.publishItemEvent(EventItemEvicted, now, it)
	}
	archiver := e.archiver
	e.mu.Unlock()

	if len(copies) == 0 {
		return
	}
	if archiver != nil {
		for i := range copies {
			archiver.ArchiveItem(copies[i])
		}
	}
	e.log.Debug("retention sweep evicted terminal items", logx.Int("count", len(copies)))
}
