package crank

import "github.com/google/btree"

// scheduleEntry orders pending liquifundings by due time, then id for
// determinism (spec.md §3 Crank queue: "LiquifundPosition(id) indexed by
// scheduled time").
type scheduleEntry struct {
	DueAt int64
	ID    string
}

func lessSchedule(a, b scheduleEntry) bool {
	if a.DueAt != b.DueAt {
		return a.DueAt < b.DueAt
	}
	return a.ID < b.ID
}

// Schedule is the ordered liquifunding due-time index.
type Schedule struct {
	tree *btree.BTreeG[scheduleEntry]
	byID map[string]scheduleEntry
}

func NewSchedule() *Schedule {
	return &Schedule{
		tree: btree.NewG(32, lessSchedule),
		byID: make(map[string]scheduleEntry),
	}
}

// Set schedules (or reschedules) a position's next liquifunding.
func (s *Schedule) Set(id string, dueAt int64) {
	s.Remove(id)
	e := scheduleEntry{DueAt: dueAt, ID: id}
	s.tree.ReplaceOrInsert(e)
	s.byID[id] = e
}

func (s *Schedule) Remove(id string) {
	if e, ok := s.byID[id]; ok {
		s.tree.Delete(e)
		delete(s.byID, id)
	}
}

// Due returns the id of the earliest-scheduled position with DueAt < ts,
// if any (spec.md §4.6 step 4: "next_liquifunding_at < P.timestamp").
func (s *Schedule) Due(ts int64) (string, bool) {
	var found string
	ok := false
	s.tree.Ascend(func(e scheduleEntry) bool {
		if e.DueAt >= ts {
			return false
		}
		found = e.ID
		ok = true
		return false
	})
	return found, ok
}

func (s *Schedule) Len() int { return len(s.byID) }
