package coder

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"gamesmith/pkg/logx"
	"gamesmith/pkg/proto"
)

// diffStats measures how much text changed between two versions of a file,
// in characters added and removed.
func diffStats(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return added, removed
}

// logRetryDiffs reports how a retry changed each file relative to the previous
// attempt, so operators can tell whether the model is reacting to the
// diagnostics or resending the same content. Debug-only: the diff work is
// skipped entirely when debug logging is off.
func (c *Coder) logRetryDiffs(attempt int, prev, curr []proto.GeneratedFile) {
	if !logx.IsDebugEnabled() {
		return
	}
	prevByPath := make(map[string]string, len(prev))
	for _, f := range prev {
		prevByPath[f.Path] = f.Content
	}
	for _, f := range curr {
		before, ok := prevByPath[f.Path]
		if !ok {
			c.logger.Debug("📐 Attempt %d added %s (%d bytes)", attempt, f.Path, len(f.Content))
			continue
		}
		added, removed := diffStats(before, f.Content)
		if added == 0 && removed == 0 {
			c.logger.Debug("📐 Attempt %d resent %s unchanged", attempt, f.Path)
			continue
		}
		c.logger.Debug("📐 Attempt %d rewrote %s: +%d/-%d chars", attempt, f.Path, added, removed)
	}
}
