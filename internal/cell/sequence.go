package cell

import "tmcnotebook/pkg/domain"

// Sequence hands out cell ids in increasing order. It is a plain value owned
// by a registry, which serializes access to it.
type Sequence struct {
	last domain.CellID
}

// NewSequence resumes a sequence after last.
func NewSequence(last domain.CellID) Sequence {
	if last < 0 {
		last = 0
	}
	return Sequence{last: last}
}

// Next reserves and returns the next id.
func (s *Sequence) Next() domain.CellID {
	s.last++
	return s.last
}

// Observe advances the sequence past an id assigned elsewhere, such as a
// hydrated record.
func (s *Sequence) Observe(id domain.CellID) {
	if id > s.last {
		s.last = id
	}
}

// Last returns the most recently reserved id.
func (s Sequence) Last() domain.CellID { return s.last }
