package recovery

// Completed answers membership queries over completed identifiers.
type Completed interface {
	Has(id string) bool
}

// ProgressRecord is an ordered set of completed identifiers plus a
// monotonically increasing count. It is owned by a single worker and is not
// safe for concurrent use.
type ProgressRecord struct {
	ids   []string
	index map[string]struct{}
	count int
}

// NewProgressRecord builds a record from persisted identifiers and count.
// Duplicate identifiers are dropped; the count never drops below the number
// of distinct identifiers.
func NewProgressRecord(ids []string, count int) *ProgressRecord {
	p := &ProgressRecord{
		ids:   make([]string, 0, len(ids)),
		index: make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		if _, ok := p.index[id]; ok || id == "" {
			continue
		}
		p.index[id] = struct{}{}
		p.ids = append(p.ids, id)
	}
	p.count = count
	if p.count < len(p.ids) {
		p.count = len(p.ids)
	}
	return p
}

// Has reports whether id was completed.
func (p *ProgressRecord) Has(id string) bool {
	if p == nil {
		return false
	}
	_, ok := p.index[id]
	return ok
}

// Mark records id as completed and returns true when it was new.
func (p *ProgressRecord) Mark(id string) bool {
	if id == "" || p.Has(id) {
		return false
	}
	p.index[id] = struct{}{}
	p.ids = append(p.ids, id)
	p.count++
	return true
}

// IDs returns a copy of the completed identifiers in completion order.
func (p *ProgressRecord) IDs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Len returns the number of distinct completed identifiers.
func (p *ProgressRecord) Len() int {
	if p == nil {
		return 0
	}
	return len(p.ids)
}

// Count returns the persisted completion counter.
func (p *ProgressRecord) Count() int {
	if p == nil {
		return 0
	}
	return p.count
}
