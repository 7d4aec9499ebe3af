// Package instance は容量付きのリング集合とそれを所有するセッションを扱う。
package instance

import (
	"iter"
	"slices"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// Capacity は1インスタンスに置けるリングの上限。
const Capacity = 70

// RingSet は Instance が所有するリングの集合。
// 作成時刻順に並び、スロットとIDの一意性と容量を保証する。
// ゼロ値は空集合として使える。並行アクセスは呼び出し側で直列化すること。
type RingSet struct {
	// sorted は CreatedAt 昇順、同時刻は挿入順。
	sorted []types.Ring
	// inserted は挿入順。
	inserted []types.Ring
}

func NewRingSet() *RingSet {
	return &RingSet{}
}

// RestoreRingSet rebuilds a set from rings given in insertion order.
// Owner adjacency is not re-checked since it only applies to new insertions.
func RestoreRingSet(rings []types.Ring) (*RingSet, error) {
	rs := NewRingSet()
	for _, r := range rings {
		if err := rs.admit(r, false); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Add validates r against every invariant and inserts it.
// The set is left untouched when an error is returned.
func (rs *RingSet) Add(r types.Ring) error {
	return rs.admit(r, true)
}

func (rs *RingSet) admit(r types.Ring, checkOwner bool) error {
	if len(rs.sorted)+1 > Capacity {
		return ErrCapacityExceeded
	}
	for _, existing := range rs.sorted {
		if existing.Slot == r.Slot {
			return ErrDuplicateIndex
		}
	}
	if checkOwner {
		if last, ok := rs.Last(); ok && last.Owner == r.Owner {
			return ErrOwnerConflict
		}
	}

	pos, found := slices.BinarySearchFunc(rs.sorted, r, func(a, b types.Ring) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if found {
		return ErrDuplicateID
	}
	for _, existing := range rs.sorted {
		if existing.ID == r.ID {
			return ErrDuplicateID
		}
	}

	rs.sorted = slices.Insert(rs.sorted, pos, r)
	rs.inserted = append(rs.inserted, r)
	return nil
}

func (rs *RingSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.sorted)
}

func (rs *RingSet) IsEmpty() bool {
	return rs.Len() == 0
}

// Full reports whether the set has reached Capacity.
func (rs *RingSet) Full() bool {
	return rs.Len() >= Capacity
}

// Rings returns a copy in ascending CreatedAt order.
func (rs *RingSet) Rings() []types.Ring {
	if rs == nil {
		return []types.Ring{}
	}
	return slices.Clone(rs.sorted)
}

// All iterates in ascending CreatedAt order. Each call yields a fresh sequence.
func (rs *RingSet) All() iter.Seq[types.Ring] {
	return func(yield func(types.Ring) bool) {
		if rs == nil {
			return
		}
		for _, r := range rs.sorted {
			if !yield(r) {
				return
			}
		}
	}
}

// InsertionOrder returns a copy in the order rings were admitted.
func (rs *RingSet) InsertionOrder() []types.Ring {
	if rs == nil {
		return []types.Ring{}
	}
	return slices.Clone(rs.inserted)
}

// Last returns the most recently admitted ring.
func (rs *RingSet) Last() (types.Ring, bool) {
	if rs == nil || len(rs.inserted) == 0 {
		return types.Ring{}, false
	}
	return rs.inserted[len(rs.inserted)-1], true
}

// Contains reports whether a ring with id is present.
func (rs *RingSet) Contains(id uuid.UUID) bool {
	if rs == nil {
		return false
	}
	return slices.ContainsFunc(rs.sorted, func(existing types.Ring) bool {
		return existing.ID == id
	})
}
