package instance

import "github.com/ichi0g0y/ring-overlay/internal/apperr"

// RingSet / Instance が返すドメイン衝突。errors.Is で判別する。
var (
	ErrCapacityExceeded = apperr.Conflict("ring", "instance is full")
	ErrDuplicateIndex   = apperr.Conflict("ring", "slot index is already taken")
	ErrOwnerConflict    = apperr.Conflict("ring", "same owner cannot place rings back to back")
	ErrDuplicateID      = apperr.Conflict("ring", "ring id or created_at conflicts with an existing ring")
	ErrInstanceClosed   = apperr.Conflict("instance", "instance is already finished")
)

// ErrOpenInstanceExists is returned by stores when another writer already
// opened an instance for the same location.
var ErrOpenInstanceExists = apperr.Conflict("instance", "an open instance already exists for the location")
