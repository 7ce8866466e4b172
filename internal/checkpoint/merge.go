package checkpoint

import "github.com/JakeFAU/thread-recovery/internal/recovery"

type union []recovery.Completed

func (u union) Has(id string) bool {
	for _, c := range u {
		if c != nil && c.Has(id) {
			return true
		}
	}
	return false
}

// Merge returns a read-only union of the completed sets. It is used to
// compute remaining work and is never persisted.
func Merge(global, local recovery.Completed, more ...recovery.Completed) recovery.Completed {
	return append(union{global, local}, more...)
}

// Remaining filters all down to identifiers not yet completed, keeping order.
func Remaining(all []string, done recovery.Completed) []string {
	out := make([]string, 0, len(all))
	for _, id := range all {
		if done != nil && done.Has(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Consolidate folds worker checkpoints into global, preserving global's
// order and appending new identifiers in the order the locals list them.
// It returns the number of identifiers added. Only the owner of the global
// checkpoint may persist the result.
func Consolidate(global *recovery.ProgressRecord, locals ...*recovery.ProgressRecord) int {
	added := 0
	for _, local := range locals {
		for _, id := range local.IDs() {
			if global.Mark(id) {
				added++
			}
		}
	}
	return added
}
