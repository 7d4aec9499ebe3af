package instance

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// Instance は容量付きの1セッション。FinishedAt が nil の間は受付中。
type Instance struct {
	ID         uuid.UUID
	LocationID uuid.UUID
	Rings      *RingSet
	StartedAt  time.Time
	FinishedAt *time.Time
}

// New は空の受付中インスタンスを作る。
func New(locationID uuid.UUID, now time.Time) *Instance {
	return &Instance{
		ID:         uuid.New(),
		LocationID: locationID,
		Rings:      NewRingSet(),
		StartedAt:  now,
	}
}

func (in *Instance) IsOpen() bool {
	return in.FinishedAt == nil
}

// Admit adds r and closes the instance once it reaches Capacity.
func (in *Instance) Admit(r types.Ring, now time.Time) error {
	if !in.IsOpen() {
		return ErrInstanceClosed
	}
	if in.Rings == nil {
		in.Rings = NewRingSet()
	}
	if err := in.Rings.Add(r); err != nil {
		return err
	}
	if in.Rings.Full() {
		in.finish(now)
	}
	return nil
}

// Reconcile replaces the ring set with rings, the authoritative state read
// from storage, and closes the instance if that set is full.
func (in *Instance) Reconcile(rings *RingSet, now time.Time) {
	in.Rings = rings
	if in.IsOpen() && rings.Full() {
		in.finish(now)
	}
}

func (in *Instance) finish(now time.Time) {
	if now.Before(in.StartedAt) {
		now = in.StartedAt
	}
	in.FinishedAt = &now
}

// Compare orders instances by StartedAt only; equal start times compare as equal.
func (in *Instance) Compare(other *Instance) int {
	return in.StartedAt.Compare(other.StartedAt)
}

func (in *Instance) Before(other *Instance) bool {
	return in.Compare(other) < 0
}

// SortByStartedAt sorts instances oldest first, keeping ties in input order.
func SortByStartedAt(instances []*Instance) {
	slices.SortStableFunc(instances, (*Instance).Compare)
}
