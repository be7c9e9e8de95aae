// Package selection tracks which instances the user has selected.
package selection

import "github.com/Faultbox/scenetag/internal/instance"

// Set is an insertion-ordered set of instance ids. The zero value is empty
// and ready to use. Set is not safe for concurrent use.
type Set struct {
	order []instance.ID
	index map[instance.ID]int
}

// New returns a set holding ids, deduplicated.
func New(ids ...instance.ID) *Set {
	s := &Set{}
	s.Replace(ids)
	return s
}

// Toggle removes id if present, otherwise appends it. It returns true when
// id is selected afterwards.
func (s *Set) Toggle(id instance.ID) bool {
	if s.Contains(id) {
		s.remove(id)
		return false
	}
	s.add(id)
	return true
}

// Replace discards the current contents and selects ids. Duplicates keep
// their first position.
func (s *Set) Replace(ids []instance.ID) {
	s.Clear()
	for _, id := range ids {
		if !s.Contains(id) {
			s.add(id)
		}
	}
}

// Clear empties the set.
func (s *Set) Clear() {
	s.order = nil
	s.index = nil
}

// IDs returns the selected ids in insertion order.
func (s *Set) IDs() []instance.ID {
	if s == nil {
		return nil
	}
	out := make([]instance.ID, len(s.order))
	copy(out, s.order)
	return out
}

// Contains reports whether id is selected.
func (s *Set) Contains(id instance.ID) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[id]
	return ok
}

// Len returns the number of selected ids.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Empty reports whether nothing is selected.
func (s *Set) Empty() bool {
	return s.Len() == 0
}

func (s *Set) add(id instance.ID) {
	if s.index == nil {
		s.index = make(map[instance.ID]int)
	}
	s.index[id] = len(s.order)
	s.order = append(s.order, id)
}

func (s *Set) remove(id instance.ID) {
	i := s.index[id]
	s.order = append(s.order[:i], s.order[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
}
