package store

import (
	"sort"

	"github.com/BuzzLyutic/todo-store/internal/model"
)

// ReadContext mirrors the committed contents of the store for the main loop.
// It is not safe for concurrent use; touch it only from functions running on
// the loop.
type ReadContext struct {
	records map[int64]model.Record
}

func newReadContext(initial []model.Record) *ReadContext {
	c := &ReadContext{records: make(map[int64]model.Record, len(initial))}
	for _, r := range initial {
		c.records[r.ID] = cloneRecord(r)
	}
	return c
}

func (c *ReadContext) Get(id int64) (model.Record, bool) {
	r, ok := c.records[id]
	if !ok {
		return model.Record{}, false
	}
	return cloneRecord(r), true
}

func (c *ReadContext) Len() int {
	return len(c.records)
}

// All returns the records newest first. Records without a creation time sort
// last; ties break on id, highest first.
func (c *ReadContext) All() []model.Record {
	out := make([]model.Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, cloneRecord(r))
	}
	sortCreatedDesc(out)
	return out
}

// merge applies committed changes. Values coming from a write transaction
// replace whatever the context held for the same id.
func (c *ReadContext) merge(ch model.Changes) {
	for _, r := range ch.Inserted {
		c.records[r.ID] = r
	}
	for _, r := range ch.Updated {
		c.records[r.ID] = r
	}
	for _, id := range ch.Deleted {
		delete(c.records, id)
	}
}

func sortCreatedDesc(records []model.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].CreatedAt, records[j].CreatedAt
		switch {
		case a == nil && b == nil:
			return records[i].ID > records[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return records[i].ID > records[j].ID
		default:
			return a.After(*b)
		}
	})
}
