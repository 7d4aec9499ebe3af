package localdb

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/types"
)

var testBaseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// setupTestDB は t.TempDir() 上に DBClient を作り直す。
func setupTestDB(t *testing.T, driver string) *Store {
	t.Helper()

	if DBClient != nil {
		_ = DBClient.Close()
		DBClient = nil
	}

	dbPath := filepath.Join(t.TempDir(), "local.db")
	store, err := SetupDB(Options{Driver: driver, Path: dbPath})
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
		DBClient = nil
	})
	return store
}

func testRing(i int, owner uuid.UUID) types.Ring {
	return types.Ring{
		ID:        uuid.MustParse(fmt.Sprintf("20000000-0000-4000-8000-%012d", i)),
		Position:  types.Position{Longitude: 139.69 + float64(i)/100, Latitude: 35.68},
		Owner:     owner,
		Slot:      types.SlotIndex(i),
		Hue:       types.NewHue(i * 7),
		CreatedAt: testBaseTime.Add(time.Duration(i) * time.Second),
	}
}

func testLocation() types.Location {
	radius := 300
	return types.Location{
		ID:        uuid.New(),
		Position:  types.Position{Longitude: 139.7671, Latitude: 35.6812},
		Radius:    &radius,
		Names:     []types.LocalizedName{{Lang: "en", Name: "Tokyo Station"}, {Lang: "ja", Name: "東京駅"}},
		CreatedAt: testBaseTime,
	}
}
