package instance

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/types"
)

var (
	baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ownerA   = uuid.MustParse("00000000-0000-4000-8000-00000000000a")
	ownerB   = uuid.MustParse("00000000-0000-4000-8000-00000000000b")
)

// generateRing はスロット i のリングを決定論的に生成する。所有者は交互。
func generateRing(i int) types.Ring {
	owner := ownerA
	if i%2 == 1 {
		owner = ownerB
	}
	return types.Ring{
		ID:        uuid.MustParse(fmt.Sprintf("10000000-0000-4000-8000-%012d", i)),
		Position:  types.Position{Longitude: 139.7 + float64(i)/1000, Latitude: 35.6},
		Owner:     owner,
		Slot:      types.SlotIndex(i),
		Hue:       types.NewHue(i * 5),
		CreatedAt: baseTime.Add(time.Duration(i) * time.Second),
	}
}

// fillRingSet は slot 0..n-1 のリングを順に追加した集合を返す。
func fillRingSet(n int) *RingSet {
	rs := NewRingSet()
	for i := 0; i < n; i++ {
		if err := rs.Add(generateRing(i)); err != nil {
			panic(err)
		}
	}
	return rs
}

func slotsOf(rings []types.Ring) []types.SlotIndex {
	slots := make([]types.SlotIndex, 0, len(rings))
	for _, r := range rings {
		slots = append(slots, r.Slot)
	}
	return slots
}
