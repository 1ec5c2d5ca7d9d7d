// Package regset provides a compact bitset over architectural register ids,
// used throughout the classifier, catalogue and scheduler for clobber sets,
// no-clobber constraints and ignored-register tables.
//
// Grounded on the register bitset in the teacher's
// internal/engine/wazevo/backend/regalloc package (RegSet uint64), adapted
// from a physical-register allocator's interference bitmap to a general
// register-id set: every gadget's clobbers, the scheduler's no_clobber
// argument, and an architecture's ignored-register table are all sets of
// small integers, so the same representation fits all three.
package regset

import (
	"fmt"
	"sort"
	"strings"
)

// ID identifies a register within a single architecture. It is opaque beyond
// that architecture's own register table.
type ID uint8

// Set is a bitset of register ids in [0, 64).
type Set uint64

// Of builds a Set from the given ids.
func Of(ids ...ID) Set {
	var s Set
	for _, id := range ids {
		s = s.Add(id)
	}
	return s
}

// Add returns a copy of s with id included. Ids >= 64 are silently dropped;
// no real architecture modeled here has that many distinct register ids.
func (s Set) Add(id ID) Set {
	if id >= 64 {
		return s
	}
	return s | 1<<uint(id)
}

// Has reports whether id is a member of s.
func (s Set) Has(id ID) bool {
	return id < 64 && s&(1<<uint(id)) != 0
}

// Union returns the set union of s and other.
func (s Set) Union(other Set) Set { return s | other }

// Intersects reports whether s and other share any member.
func (s Set) Intersects(other Set) bool { return s&other != 0 }

// Empty reports whether the set has no members.
func (s Set) Empty() bool { return s == 0 }

// Range calls f for every member of s in ascending order.
func (s Set) Range(f func(ID)) {
	for i := ID(0); i < 64; i++ {
		if s.Has(i) {
			f(i)
		}
	}
}

// Slice returns the members of s in ascending order.
func (s Set) Slice() []ID {
	out := make([]ID, 0, 8)
	s.Range(func(id ID) { out = append(out, id) })
	return out
}

// Format renders the set using a register-name lookup, e.g. "{rax, rdx}".
func (s Set) Format(name func(ID) string) string {
	ids := s.Slice()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = name(id)
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// String implements fmt.Stringer with raw numeric ids, for contexts without
// an architecture's name table at hand.
func (s Set) String() string {
	return s.Format(func(id ID) string { return fmt.Sprintf("r%d", id) })
}
